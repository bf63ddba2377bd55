package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/hub/pkg/chat"
)

func newTestSession(id, visitorID string, lastActivity time.Time) *chat.Session {
	return &chat.Session{
		ID:           id,
		VisitorID:    visitorID,
		CreatedAt:    lastActivity,
		LastActivity: lastActivity,
	}
}

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	now := time.Now()
	require.NoError(t, s.CreateSession(ctx, newTestSession("s1", "v1", now)))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.VisitorID)

	got.OperatorOnline = true
	require.NoError(t, s.UpdateSession(ctx, got))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.OperatorOnline)

	assert.ErrorIs(t, s.UpdateSession(ctx, newTestSession("nope", "v1", now)), chat.ErrSessionNotFound)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "s1"), chat.ErrSessionNotFound)
}

func TestMemoryStoreVisitorLookupReturnsLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	require.NoError(t, s.CreateSession(ctx, newTestSession("old", "v1", base.Add(-time.Hour))))
	require.NoError(t, s.CreateSession(ctx, newTestSession("new", "v1", base)))
	require.NoError(t, s.CreateSession(ctx, newTestSession("other", "v2", base)))

	got, err := s.GetSessionByVisitorID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)

	_, err = s.GetSessionByVisitorID(ctx, "v3")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
}

func TestMemoryStoreMessageOrderingAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateSession(ctx, newTestSession("s1", "v1", time.Now())))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, &chat.Message{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Content:   fmt.Sprintf("msg %d", i),
			Sender:    chat.SenderVisitor,
			Status:    chat.StatusSent,
			Timestamp: time.Now(),
		}))
	}

	// Upserting m1 must not move it.
	require.NoError(t, s.SaveMessage(ctx, &chat.Message{
		ID: "m1", SessionID: "s1", Content: "edited",
		Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: time.Now(),
	}))

	msgs, err := s.GetMessages(ctx, "s1", "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "m1", msgs[1].ID)
	assert.Equal(t, "edited", msgs[1].Content)

	// Pagination: after m1, limit 2.
	msgs, err = s.GetMessages(ctx, "s1", "m1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "m3", msgs[1].ID)

	// Unknown after returns from the beginning.
	msgs, err = s.GetMessages(ctx, "s1", "ghost", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestMemoryStoreBridgeIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateSession(ctx, newTestSession("s1", "v1", time.Now())))
	require.NoError(t, s.SaveMessage(ctx, &chat.Message{
		ID: "m1", SessionID: "s1", Content: "hi",
		Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: time.Now(),
	}))

	require.NoError(t, s.SaveBridgeMessageIDs(ctx, "m1", chat.BridgeMessageIDs{"telegram": "100"}))
	require.NoError(t, s.SaveBridgeMessageIDs(ctx, "m1", chat.BridgeMessageIDs{"slack": "1.2", "telegram": "999"}))

	ids, err := s.GetBridgeMessageIDs(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "100", ids["telegram"], "first write wins")
	assert.Equal(t, "1.2", ids["slack"])

	msg, err := s.MessageByBridgeID(ctx, "telegram", "100")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	_, err = s.MessageByBridgeID(ctx, "telegram", "999")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestMemoryStoreDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateSession(ctx, newTestSession("s1", "v1", time.Now())))
	require.NoError(t, s.SaveMessage(ctx, &chat.Message{
		ID: "m1", SessionID: "s1", Content: "hi",
		Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: time.Now(),
	}))
	require.NoError(t, s.SaveBridgeMessageIDs(ctx, "m1", chat.BridgeMessageIDs{"telegram": "1"}))

	require.NoError(t, s.DeleteSession(ctx, "s1"))

	_, err := s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
	_, err = s.MessageByBridgeID(ctx, "telegram", "1")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestMemoryStoreCleanupOlderThan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	require.NoError(t, s.CreateSession(ctx, newTestSession("stale", "v1", base.Add(-48*time.Hour))))
	require.NoError(t, s.CreateSession(ctx, newTestSession("fresh", "v2", base)))
	require.NoError(t, s.SaveMessage(ctx, &chat.Message{
		ID: "m1", SessionID: "stale", Content: "bye",
		Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: base.Add(-48 * time.Hour),
	}))

	removed, err := s.CleanupOlderThan(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, removed)

	_, err = s.GetSession(ctx, "stale")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
	_, err = s.GetSession(ctx, "fresh")
	assert.NoError(t, err)
}
