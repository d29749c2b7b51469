package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrTimeout       = errors.New("bridge request timed out")
	ErrDisconnected  = errors.New("editor client disconnected")
	ErrUnknownClient = errors.New("editor client not connected")
)

// bridgeConn tracks a single connected editor instance. Writes are
// serialized; gorilla/websocket allows at most one concurrent writer.
type bridgeConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *bridgeConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type pendingResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is one outstanding snapshot request. The entry is removed
// from the pending table exactly once, by whichever of the reply, timeout
// or disconnect path takes it first; the buffered channel means the
// winner's delivery never blocks.
type pendingRequest struct {
	id        string
	clientID  string
	ch        chan pendingResult
	createdAt time.Time
}

// Bridge owns the set of live editor connections and correlates their
// asynchronous replies to waiting callers by request id.
type Bridge struct {
	log            *Logger
	defaultTimeout time.Duration
	maxTimeout     time.Duration

	mu      sync.RWMutex
	clients map[string]*bridgeConn

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest
}

func NewBridge(log *Logger, defaultTimeout, maxTimeout time.Duration) *Bridge {
	if defaultTimeout <= 0 {
		defaultTimeout = 3 * time.Second
	}
	if maxTimeout <= 0 {
		maxTimeout = 30 * time.Second
	}
	return &Bridge{
		log:            log,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		clients:        make(map[string]*bridgeConn),
		pending:        make(map[string]*pendingRequest),
	}
}

// Register adds or replaces the connection for clientID. A replaced
// connection is assumed closed by its own read loop.
func (b *Bridge) Register(clientID string, conn *websocket.Conn) {
	c := &bridgeConn{id: clientID, conn: conn}
	b.mu.Lock()
	replaced := b.clients[clientID] != nil
	b.clients[clientID] = c
	b.mu.Unlock()
	b.log.Info("editor client connected", map[string]interface{}{
		"client_id": clientID,
		"replaced":  replaced,
		"pool_size": len(b.ListClients()),
	})
}

// Unregister removes the connection and fails every pending request that
// was addressed to it, so no caller waits out a dead connection.
func (b *Bridge) Unregister(clientID string) {
	b.mu.Lock()
	delete(b.clients, clientID)
	b.mu.Unlock()
	b.failPending(clientID)
	b.log.Info("editor client disconnected", map[string]interface{}{
		"client_id": clientID,
		"pool_size": len(b.ListClients()),
	})
}

// unregisterConn removes the connection only if it is still the registered
// one, so a reconnect under the same id is not torn down by the old read
// loop exiting late.
func (b *Bridge) unregisterConn(c *bridgeConn) {
	b.mu.Lock()
	current := b.clients[c.id]
	if current == c {
		delete(b.clients, c.id)
	}
	b.mu.Unlock()
	if current == c {
		b.failPending(c.id)
		b.log.Info("editor client disconnected", map[string]interface{}{
			"client_id": c.id,
			"pool_size": len(b.ListClients()),
		})
	}
}

func (b *Bridge) failPending(clientID string) {
	b.pendingMu.Lock()
	var victims []*pendingRequest
	for id, p := range b.pending {
		if p.clientID == clientID {
			delete(b.pending, id)
			victims = append(victims, p)
		}
	}
	b.pendingMu.Unlock()
	for _, p := range victims {
		p.ch <- pendingResult{err: ErrDisconnected}
	}
}

// ListClients returns the connected client ids in stable sorted order; the
// resolver's "use editor N" ordinals index into this order.
func (b *Bridge) ListClients() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (b *Bridge) client(clientID string) *bridgeConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clients[clientID]
}

// Send transmits a message with no reply correlation.
func (b *Bridge) Send(clientID string, message interface{}) error {
	c := b.client(clientID)
	if c == nil {
		return ErrUnknownClient
	}
	if err := c.writeJSON(message); err != nil {
		return fmt.Errorf("bridge send to %s: %w", clientID, err)
	}
	return nil
}

// SendAndAwait transmits message augmented with a fresh request id and
// blocks until the matching reply arrives, the timeout elapses, or the
// connection goes away.
func (b *Bridge) SendAndAwait(ctx context.Context, clientID string, message map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	if timeout > b.maxTimeout {
		timeout = b.maxTimeout
	}
	c := b.client(clientID)
	if c == nil {
		return nil, ErrUnknownClient
	}

	reqID := uuid.NewString()
	p := &pendingRequest{
		id:        reqID,
		clientID:  clientID,
		ch:        make(chan pendingResult, 1),
		createdAt: time.Now(),
	}
	b.pendingMu.Lock()
	b.pending[reqID] = p
	b.pendingMu.Unlock()

	out := make(map[string]interface{}, len(message)+1)
	for k, v := range message {
		out[k] = v
	}
	out["id"] = reqID

	if err := c.writeJSON(out); err != nil {
		b.takePending(reqID)
		return nil, fmt.Errorf("bridge send to %s: %w", clientID, ErrDisconnected)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		return res.payload, res.err
	case <-timer.C:
		if b.takePending(reqID) != nil {
			return nil, ErrTimeout
		}
		// Lost the race: a reply or disconnect already took the entry.
		res := <-p.ch
		return res.payload, res.err
	case <-ctx.Done():
		if b.takePending(reqID) != nil {
			return nil, ctx.Err()
		}
		res := <-p.ch
		return res.payload, res.err
	}
}

// takePending removes and returns the pending entry for id, or nil if some
// other completion path already claimed it.
func (b *Bridge) takePending(id string) *pendingRequest {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	p := b.pending[id]
	if p != nil {
		delete(b.pending, id)
	}
	return p
}

// PendingCount reports the size of the correlation table.
func (b *Bridge) PendingCount() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}

type bridgeEnvelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// HandleClient registers the connection and runs its read loop until the
// connection closes. Messages from one instance are processed in arrival
// order; a frame that is not a parseable envelope is dropped without
// closing the connection.
func (b *Bridge) HandleClient(clientID string, conn *websocket.Conn) {
	c := &bridgeConn{id: clientID, conn: conn}
	b.mu.Lock()
	replaced := b.clients[clientID] != nil
	b.clients[clientID] = c
	b.mu.Unlock()
	b.log.Info("editor client connected", map[string]interface{}{
		"client_id": clientID,
		"replaced":  replaced,
	})
	defer b.unregisterConn(c)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn("editor client read failed", map[string]interface{}{
					"client_id": clientID,
					"error":     err.Error(),
				})
			}
			return
		}
		var env bridgeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.log.Warn("dropping malformed bridge frame", map[string]interface{}{
				"client_id": clientID,
			})
			continue
		}
		if env.Type == "snapshot" && env.ID != "" {
			b.resolve(env.ID, data)
		}
	}
}

// resolve completes the pending request for id with the reply payload. A
// reply to an id that was already resolved is silently dropped.
func (b *Bridge) resolve(id string, payload json.RawMessage) {
	p := b.takePending(id)
	if p == nil {
		return
	}
	p.ch <- pendingResult{payload: payload}
}
