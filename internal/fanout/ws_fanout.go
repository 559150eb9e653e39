package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNoSession means the recipient has no live websocket. Callers treat
// it as a soft miss: the kafka event log still carries the event and
// the snapshot endpoint remains the polling fallback.
var ErrNoSession = errors.New("no ws session")

// wsSession serializes writes to one connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(recipientID string, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(map[string]any{"recipient": recipientID, "event": ev})
}

// WSRegistry holds the live sessions of requesters and providers, keyed
// by party id. It replaces the client-side live-query pattern: the
// server pushes committed states instead of clients watching the store.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*wsSession)}
}

func (r *WSRegistry) Add(partyID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[partyID] = &wsSession{conn: conn}
}

// RemoveConn drops the party's session only if it still belongs to
// conn. A reconnect replaces the session under the same party id, so an
// unconditional delete from the stale connection's reader would sever
// the fresh session.
func (r *WSRegistry) RemoveConn(partyID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[partyID]; ok && s.conn == conn {
		delete(r.sessions, partyID)
	}
}

func (r *WSRegistry) Publish(ctx context.Context, recipientID string, ev models.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[recipientID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(recipientID, ev)
}
