// Package broadcast fans hub events out to connected widget clients,
// grouped by session.
package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// Event is the envelope pushed to widget connections.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Conn is a single widget connection. *websocket.Conn satisfies it; tests
// use in-memory fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Broadcaster tracks live widget connections per session and pushes events
// to them. A write failure drops the connection.
type Broadcaster struct {
	mu       sync.RWMutex
	sessions map[string]map[Conn]struct{}
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		sessions: make(map[string]map[Conn]struct{}),
		logger:   logger,
	}
}

// Register attaches a connection to a session.
func (b *Broadcaster) Register(sessionID string, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns, ok := b.sessions[sessionID]
	if !ok {
		conns = make(map[Conn]struct{})
		b.sessions[sessionID] = conns
	}
	conns[conn] = struct{}{}
}

// Unregister detaches a connection. The caller owns closing it.
func (b *Broadcaster) Unregister(sessionID string, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conns, ok := b.sessions[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(b.sessions, sessionID)
		}
	}
}

// ToSession pushes an event to every connection of one session.
func (b *Broadcaster) ToSession(sessionID string, event Event) {
	b.mu.RLock()
	conns := make([]Conn, 0, len(b.sessions[sessionID]))
	for conn := range b.sessions[sessionID] {
		conns = append(conns, conn)
	}
	b.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			b.logger.Debug("widget write failed, dropping connection",
				zap.String("session_id", sessionID),
				zap.String("event", event.Type),
				zap.Error(err))
			b.Unregister(sessionID, conn)
			conn.Close()
		}
	}
}

// ToAll pushes an event to every live session.
func (b *Broadcaster) ToAll(event Event) {
	for _, sessionID := range b.SessionIDs() {
		b.ToSession(sessionID, event)
	}
}

// SessionIDs lists sessions with at least one live connection.
func (b *Broadcaster) SessionIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		out = append(out, id)
	}
	return out
}

// ConnCount reports the number of live connections for a session.
func (b *Broadcaster) ConnCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}
