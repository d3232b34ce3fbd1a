// Package realtime is the best-effort delivery channel to connected drivers
// and riders. Delivery is not guaranteed: a missing or broken session returns
// ErrNoSession and the caller decides what that means (for dispatch, an
// unreachable candidate, never a decline).
package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("realtime: no open session")

type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

// Envelope frames every outbound message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Session wraps one websocket connection; the mutex serializes writes since
// gorilla connections allow a single concurrent writer.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

type key struct {
	role Role
	id   string
}

// Hub holds the open sessions by role and identity. OnDisconnect fires after
// a session is removed, letting the caller clean up presence state.
type Hub struct {
	mu       sync.RWMutex
	sessions map[key]*Session

	OnDisconnect func(role Role, id string)
	Logger       *slog.Logger
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[key]*Session)}
}

// Add registers a connection, replacing and closing any previous session for
// the same identity.
func (h *Hub) Add(role Role, id string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	h.mu.Lock()
	prev := h.sessions[key{role, id}]
	h.sessions[key{role, id}] = s
	h.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
	return s
}

// Remove drops the session if it is still the registered one, then fires
// OnDisconnect. A stale session (already replaced by a reconnect) is ignored.
func (h *Hub) Remove(role Role, id string, s *Session) {
	h.mu.Lock()
	cur := h.sessions[key{role, id}]
	if cur == s {
		delete(h.sessions, key{role, id})
	}
	h.mu.Unlock()
	if cur != s {
		return
	}
	if h.OnDisconnect != nil {
		h.OnDisconnect(role, id)
	}
}

// Send pushes one event to the identity's open session, if any.
func (h *Hub) Send(role Role, id, event string, payload any) error {
	h.mu.RLock()
	s, ok := h.sessions[key{role, id}]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNoSession, role, id)
	}
	if err := s.send(Envelope{Type: event, Data: payload}); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("ws send failed", "role", string(role), "id", id, "error", err)
		}
		return fmt.Errorf("%w: %s %s", ErrNoSession, role, id)
	}
	return nil
}

func (h *Hub) SendToDriver(id, event string, payload any) error {
	return h.Send(RoleDriver, id, event, payload)
}

func (h *Hub) SendToRider(id, event string, payload any) error {
	return h.Send(RoleRider, id, event, payload)
}

// Connected reports whether an identity has an open session.
func (h *Hub) Connected(role Role, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[key{role, id}]
	return ok
}
