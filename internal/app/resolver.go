package app

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var ErrNoClient = errors.New("no editor clients connected")

// AmbiguousError reports that more than one editor is connected and none
// was chosen; Clients carries the candidates for the user to pick from.
type AmbiguousError struct {
	Clients []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("multiple editor clients connected: %s", strings.Join(e.Clients, ", "))
}

// SessionStore holds each session's sticky editor preference. Entries are
// last-write-wins and live for the process lifetime; staleness is healed
// by the resolver evicting preferences whose client has disconnected.
type SessionStore struct {
	mu    sync.RWMutex
	prefs map[string]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{prefs: make(map[string]string)}
}

func (s *SessionStore) Get(session string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.prefs[session]
	return id, ok
}

func (s *SessionStore) Put(session, clientID string) {
	if session == "" || clientID == "" {
		return
	}
	s.mu.Lock()
	s.prefs[session] = clientID
	s.mu.Unlock()
}

func (s *SessionStore) Evict(session string) {
	s.mu.Lock()
	delete(s.prefs, session)
	s.mu.Unlock()
}

// ClientLister is the read-only view of the bridge the resolver needs.
type ClientLister interface {
	ListClients() []string
}

// Resolver decides which connected editor a tool call targets.
type Resolver struct {
	clients  ClientLister
	sessions *SessionStore
}

func NewResolver(clients ClientLister, sessions *SessionStore) *Resolver {
	return &Resolver{clients: clients, sessions: sessions}
}

func (r *Resolver) Sessions() *SessionStore {
	return r.sessions
}

// Resolve picks exactly one target client, in strict priority order:
// explicit connected id (persisted), sticky preference still connected,
// stale preference evicted and then the connected set. An empty set fails
// with ErrNoClient, a sole client is auto-picked and persisted, and
// several fail with AmbiguousError.
func (r *Resolver) Resolve(session, requested string) (string, error) {
	ids := r.clients.ListClients()
	want := NormalizeClientID(requested)

	if want != "" && contains(ids, want) {
		r.sessions.Put(session, want)
		return want, nil
	}

	if session != "" {
		if pref, ok := r.sessions.Get(session); ok {
			if contains(ids, pref) {
				return pref, nil
			}
			r.sessions.Evict(session)
		}
	}

	switch len(ids) {
	case 0:
		return "", ErrNoClient
	case 1:
		r.sessions.Put(session, ids[0])
		return ids[0], nil
	default:
		return "", &AmbiguousError{Clients: ids}
	}
}

var (
	useOrdinalRe = regexp.MustCompile(`\buse\s+editor\s+(\d+)\b`)
	useIDRe      = regexp.MustCompile(`\buse\s+([0-9a-f-]{6,})\b`)
)

// SetPreference interprets a client-selection utterance like "use editor 2"
// (1-based ordinal over ListClients order) or "use <id-prefix>". On a match
// the preference is stored and the resolved id returned.
func (r *Resolver) SetPreference(session, utterance string) (string, bool) {
	if session == "" {
		return "", false
	}
	text := strings.ToLower(strings.TrimSpace(utterance))
	ids := r.clients.ListClients()

	if m := useOrdinalRe.FindStringSubmatch(text); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err == nil && idx >= 1 && idx <= len(ids) {
			r.sessions.Put(session, ids[idx-1])
			return ids[idx-1], true
		}
	}

	if m := useIDRe.FindStringSubmatch(text); m != nil {
		token := m[1]
		for _, id := range ids {
			if strings.HasPrefix(strings.ToLower(id), token) {
				r.sessions.Put(session, id)
				return id, true
			}
		}
	}
	return "", false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
