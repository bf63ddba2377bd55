package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketping/hub/pkg/chat"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	session := &chat.Session{
		ID:           "s1",
		VisitorID:    "v1",
		CreatedAt:    now,
		LastActivity: now,
		AIActive:     true,
		Metadata:     &chat.SessionMetadata{URL: "https://example.com", Browser: "Firefox"},
		Identity: &chat.UserIdentity{
			ID:    "u1",
			Email: "a@b.c",
			Extra: map[string]interface{}{"plan": "pro"},
		},
	}
	require.NoError(t, s.CreateSession(ctx, session))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.VisitorID)
	assert.True(t, got.AIActive)
	assert.Equal(t, now, got.LastActivity)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "Firefox", got.Metadata.Browser)
	require.NotNil(t, got.Identity)
	assert.Equal(t, "pro", got.Identity.Extra["plan"])

	_, err = s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)

	got.OperatorOnline = true
	require.NoError(t, s.UpdateSession(ctx, got))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.OperatorOnline)
}

func TestSQLiteMessageOrderAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, &chat.Session{ID: "s1", VisitorID: "v1", CreatedAt: now, LastActivity: now}))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveMessage(ctx, &chat.Message{
			ID: id, SessionID: "s1", Content: id,
			Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: now,
		}))
	}

	// Upsert keeps rowid position.
	require.NoError(t, s.SaveMessage(ctx, &chat.Message{
		ID: "a", SessionID: "s1", Content: "a2",
		Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: now,
	}))

	msgs, err := s.GetMessages(ctx, "s1", "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "a2", msgs[0].Content)

	msgs, err = s.GetMessages(ctx, "s1", "a", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].ID)

	// Unknown after returns from the beginning.
	msgs, err = s.GetMessages(ctx, "s1", "ghost", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestSQLiteBridgeIDsAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, &chat.Session{ID: "s1", VisitorID: "v1", CreatedAt: now, LastActivity: now}))
	require.NoError(t, s.SaveMessage(ctx, &chat.Message{
		ID: "m1", SessionID: "s1", Content: "hi",
		Sender: chat.SenderVisitor, Status: chat.StatusSent, Timestamp: now,
	}))

	require.NoError(t, s.SaveBridgeMessageIDs(ctx, "m1", chat.BridgeMessageIDs{"telegram": "100"}))
	require.NoError(t, s.SaveBridgeMessageIDs(ctx, "m1", chat.BridgeMessageIDs{"telegram": "999", "slack": "1.2"}))

	ids, err := s.GetBridgeMessageIDs(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "100", ids["telegram"], "first write wins")
	assert.Equal(t, "1.2", ids["slack"])

	found, err := s.MessageByBridgeID(ctx, "slack", "1.2")
	require.NoError(t, err)
	assert.Equal(t, "m1", found.ID)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
	_, err = s.MessageByBridgeID(ctx, "slack", "1.2")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestSQLiteCleanup(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, &chat.Session{ID: "old", VisitorID: "v1", CreatedAt: now.Add(-72 * time.Hour), LastActivity: now.Add(-72 * time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, &chat.Session{ID: "new", VisitorID: "v2", CreatedAt: now, LastActivity: now}))

	removed, err := s.CleanupOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, removed)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "new", sessions[0].ID)
}

func TestSQLiteVisitorLookupPrefersLatest(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateSession(ctx, &chat.Session{ID: "first", VisitorID: "v1", CreatedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, &chat.Session{ID: "second", VisitorID: "v1", CreatedAt: now, LastActivity: now}))

	got, err := s.GetSessionByVisitorID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.ID)
}
