package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestBridge serves a bridge behind a websocket endpoint; tests dial in
// as editor instances.
func newTestBridge(t *testing.T, defaultTimeout time.Duration) (*Bridge, string) {
	t.Helper()
	b := NewBridge(NewLogger(io.Discard), defaultTimeout, 30*time.Second)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		b.HandleClient(r.URL.Query().Get("client_id"), conn)
	}))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialEditor(t *testing.T, wsURL, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?client_id="+clientID, nil)
	if err != nil {
		t.Fatalf("dial editor %s: %v", clientID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, b *Bridge, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.ListClients()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %v", n, b.ListClients())
}

func TestListClientsSorted(t *testing.T) {
	b := NewBridge(NewLogger(io.Discard), time.Second, time.Second)
	b.Register("zebra", nil)
	b.Register("alpha", nil)
	b.Register("mid", nil)
	ids := b.ListClients()
	if len(ids) != 3 || ids[0] != "alpha" || ids[1] != "mid" || ids[2] != "zebra" {
		t.Errorf("expected sorted ids, got %v", ids)
	}
	b.Unregister("mid")
	if got := b.ListClients(); len(got) != 2 {
		t.Errorf("expected 2 after unregister, got %v", got)
	}
}

func TestSendUnknownClient(t *testing.T) {
	b := NewBridge(NewLogger(io.Discard), time.Second, time.Second)
	if err := b.Send("nobody", map[string]string{"type": "inject"}); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient, got %v", err)
	}
	if _, err := b.SendAndAwait(context.Background(), "nobody", map[string]interface{}{}, 0); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient, got %v", err)
	}
}

func TestSendAndAwaitReply(t *testing.T) {
	b, wsURL := newTestBridge(t, 2*time.Second)
	editor := dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	// The editor side answers the first snapshot request it sees.
	go func() {
		_, data, err := editor.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if json.Unmarshal(data, &req) != nil || req.Type != "snapshot_request" {
			return
		}
		reply, _ := json.Marshal(map[string]interface{}{
			"type":    "snapshot",
			"id":      req.ID,
			"path":    "/home/user/notes.md",
			"content": "hello from the editor",
		})
		editor.WriteMessage(websocket.TextMessage, reply)
	}()

	payload, err := b.SendAndAwait(context.Background(), "ed1", map[string]interface{}{
		"type":      "snapshot_request",
		"selection": false,
	}, 0)
	if err != nil {
		t.Fatalf("SendAndAwait returned error: %v", err)
	}
	var snap struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if snap.Path != "/home/user/notes.md" || snap.Content != "hello from the editor" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table not drained, %d left", n)
	}
}

func TestSendAndAwaitTimeout(t *testing.T) {
	b, wsURL := newTestBridge(t, 100*time.Millisecond)
	editor := dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	// The editor reads the request and never answers.
	idCh := make(chan string, 1)
	go func() {
		_, data, err := editor.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		json.Unmarshal(data, &req)
		idCh <- req.ID
	}()

	_, err := b.SendAndAwait(context.Background(), "ed1", map[string]interface{}{
		"type": "snapshot_request",
	}, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table not drained after timeout, %d left", n)
	}

	// A reply arriving after the timeout must be dropped without effect.
	select {
	case reqID := <-idCh:
		late, _ := json.Marshal(map[string]interface{}{"type": "snapshot", "id": reqID})
		editor.WriteMessage(websocket.TextMessage, late)
		time.Sleep(50 * time.Millisecond)
		if n := b.PendingCount(); n != 0 {
			t.Errorf("late reply grew the pending table to %d", n)
		}
		if len(b.ListClients()) != 1 {
			t.Error("late reply must not tear down the connection")
		}
	case <-time.After(time.Second):
		t.Fatal("editor never received the request")
	}
}

func TestSendAndAwaitDisconnect(t *testing.T) {
	b, wsURL := newTestBridge(t, 5*time.Second)
	editor := dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	go func() {
		editor.ReadMessage()
		editor.Close()
	}()

	_, err := b.SendAndAwait(context.Background(), "ed1", map[string]interface{}{
		"type": "snapshot_request",
	}, 0)
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table not drained after disconnect, %d left", n)
	}
	waitForClients(t, b, 0)
}

func TestSendAndAwaitContextCancel(t *testing.T) {
	b, wsURL := newTestBridge(t, 5*time.Second)
	dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := b.SendAndAwait(ctx, "ed1", map[string]interface{}{"type": "snapshot_request"}, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := b.PendingCount(); n != 0 {
		t.Errorf("pending table not drained after cancel, %d left", n)
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	b, wsURL := newTestBridge(t, time.Second)
	editor := dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	if err := editor.WriteMessage(websocket.TextMessage, []byte("this is not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(b.ListClients()) != 1 {
		t.Error("malformed frame must not close the connection")
	}
}

func TestInjectDelivery(t *testing.T) {
	b, wsURL := newTestBridge(t, time.Second)
	editor := dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	if err := b.Send("ed1", map[string]interface{}{
		"type":     "inject",
		"content":  "package main",
		"mode":     "insert",
		"position": "cursor",
	}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	editor.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := editor.ReadMessage()
	if err != nil {
		t.Fatalf("editor read failed: %v", err)
	}
	var msg struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad inject frame: %v", err)
	}
	if msg.Type != "inject" || msg.Content != "package main" || msg.Mode != "insert" {
		t.Errorf("unexpected inject frame: %+v", msg)
	}
}

func TestReconnectSameID(t *testing.T) {
	b, wsURL := newTestBridge(t, time.Second)
	old := dialEditor(t, wsURL, "ed1")
	waitForClients(t, b, 1)

	// A second dial under the same id replaces the first registration; the
	// stale read loop exiting must not evict the new connection.
	fresh := dialEditor(t, wsURL, "ed1")
	old.Close()
	time.Sleep(100 * time.Millisecond)
	if len(b.ListClients()) != 1 {
		t.Fatalf("expected the replacement to survive, have %v", b.ListClients())
	}

	go func() {
		_, data, err := fresh.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		json.Unmarshal(data, &req)
		reply, _ := json.Marshal(map[string]interface{}{"type": "snapshot", "id": req.ID, "content": "fresh"})
		fresh.WriteMessage(websocket.TextMessage, reply)
	}()
	payload, err := b.SendAndAwait(context.Background(), "ed1", map[string]interface{}{"type": "snapshot_request"}, 0)
	if err != nil {
		t.Fatalf("SendAndAwait after reconnect: %v", err)
	}
	if !strings.Contains(string(payload), "fresh") {
		t.Errorf("reply did not come from the fresh connection: %s", payload)
	}
}
