// Package store defines the persistence contract for sessions, messages and
// cross-channel message-ID mappings, with in-memory and SQLite
// implementations.
package store

import (
	"context"
	"time"

	"github.com/pocketping/hub/pkg/chat"
)

// Store is the persistence boundary. Implementations must be safe for
// concurrent use. Lookups for absent records return
// chat.ErrSessionNotFound / chat.ErrMessageNotFound.
type Store interface {
	CreateSession(ctx context.Context, session *chat.Session) error
	GetSession(ctx context.Context, sessionID string) (*chat.Session, error)
	// GetSessionByVisitorID returns the visitor's most recently active
	// session.
	GetSessionByVisitorID(ctx context.Context, visitorID string) (*chat.Session, error)
	UpdateSession(ctx context.Context, session *chat.Session) error
	// DeleteSession removes the session together with its messages and
	// their bridge-ID mappings.
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]*chat.Session, error)

	// SaveMessage inserts or replaces by message ID. A replaced message
	// keeps its original position in the session's ordering.
	SaveMessage(ctx context.Context, msg *chat.Message) error
	GetMessage(ctx context.Context, messageID string) (*chat.Message, error)
	// GetMessages returns the session's messages in insertion order,
	// strictly after the message with ID after (all messages when after is
	// empty), capped at limit when limit > 0.
	GetMessages(ctx context.Context, sessionID string, after string, limit int) ([]*chat.Message, error)

	// SaveBridgeMessageIDs merges ids into the stored mapping for the
	// message. Existing entries win over incoming ones.
	SaveBridgeMessageIDs(ctx context.Context, messageID string, ids chat.BridgeMessageIDs) error
	GetBridgeMessageIDs(ctx context.Context, messageID string) (chat.BridgeMessageIDs, error)
	// MessageByBridgeID resolves the hub message that a bridge mirrored
	// under the given native ID.
	MessageByBridgeID(ctx context.Context, bridge, nativeID string) (*chat.Message, error)

	// CleanupOlderThan removes sessions whose last activity is before the
	// cutoff, cascading to their messages. Returns the IDs of the sessions
	// removed so callers can release per-session state.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)

	Close() error
}
