package store

import (
	"context"
	"sync"
	"time"

	"github.com/pocketping/hub/pkg/chat"
)

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryStore keeps everything in process memory. It is the default store
// and the one the test suites run against.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*chat.Session
	messages  map[string]*chat.Message
	order     map[string][]string // sessionID -> message IDs in insertion order
	bridgeIDs map[string]chat.BridgeMessageIDs
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*chat.Session),
		messages:  make(map[string]*chat.Message),
		order:     make(map[string][]string),
		bridgeIDs: make(map[string]chat.BridgeMessageIDs),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, chat.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) GetSessionByVisitorID(_ context.Context, visitorID string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *chat.Session
	for _, session := range s.sessions {
		if session.VisitorID != visitorID {
			continue
		}
		if latest == nil || session.LastActivity.After(latest.LastActivity) {
			latest = session
		}
	}
	if latest == nil {
		return nil, chat.ErrSessionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return chat.ErrSessionNotFound
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return chat.ErrSessionNotFound
	}
	s.deleteSessionLocked(sessionID)
	return nil
}

func (s *MemoryStore) deleteSessionLocked(sessionID string) {
	delete(s.sessions, sessionID)
	for _, msgID := range s.order[sessionID] {
		delete(s.messages, msgID)
		delete(s.bridgeIDs, msgID)
	}
	delete(s.order, sessionID)
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		cp := *session
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.order[msg.SessionID] = append(s.order[msg.SessionID], msg.ID)
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) GetMessages(_ context.Context, sessionID string, after string, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[sessionID]
	start := 0
	if after != "" {
		for i, id := range ids {
			if id == after {
				start = i + 1
				break
			}
		}
	}
	out := make([]*chat.Message, 0, len(ids)-start)
	for _, id := range ids[start:] {
		if msg, ok := s.messages[id]; ok {
			cp := *msg
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveBridgeMessageIDs(_ context.Context, messageID string, ids chat.BridgeMessageIDs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridgeIDs[messageID] = s.bridgeIDs[messageID].Merge(ids)
	return nil
}

func (s *MemoryStore) GetBridgeMessageIDs(_ context.Context, messageID string) (chat.BridgeMessageIDs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bridgeIDs[messageID].Clone(), nil
}

func (s *MemoryStore) MessageByBridgeID(_ context.Context, bridge, nativeID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for msgID, ids := range s.bridgeIDs {
		if ids[bridge] != nativeID {
			continue
		}
		if msg, ok := s.messages[msgID]; ok {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, chat.ErrMessageNotFound
}

func (s *MemoryStore) CleanupOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, session := range s.sessions {
		if session.LastActivity.Before(cutoff) {
			s.deleteSessionLocked(id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
