package forward

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/chat"
)

func TestForwarderSignsAndDelivers(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := &chat.Session{
		ID:        "s1",
		VisitorID: "v1",
		Identity:  &chat.UserIdentity{ID: "u1", Email: "a@b.c"},
	}
	f := New(srv.URL, "topsecret", zap.NewNop())
	f.Forward(context.Background(), "message", session, map[string]string{"id": "m1"})

	select {
	case r := <-received:
		body := <-bodies
		sig := r.Header.Get(SignatureHeader)
		require.NotEmpty(t, sig)
		assert.True(t, Verify([]byte("topsecret"), body, sig))
		assert.False(t, Verify([]byte("wrong"), body, sig))

		var env Envelope
		require.NoError(t, json.Unmarshal(body, &env))
		assert.Equal(t, "message", env.Event.Name)
		assert.Equal(t, "s1", env.Event.SessionID)
		require.NotNil(t, env.Session)
		assert.Equal(t, "s1", env.Session.ID)
		assert.Equal(t, "v1", env.Session.VisitorID)
		require.NotNil(t, env.Session.Identity)
		assert.Equal(t, "a@b.c", env.Session.Identity.Email)
		assert.False(t, env.SentAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}
}

func TestForwarderOmitsSessionForBroadcasts(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
	}))
	defer srv.Close()

	f := New(srv.URL, "", zap.NewNop())
	f.Forward(context.Background(), "maintenance", nil, map[string]interface{}{"at": "soon"})

	select {
	case body := <-bodies:
		var env Envelope
		require.NoError(t, json.Unmarshal(body, &env))
		assert.Equal(t, "maintenance", env.Event.Name)
		assert.Empty(t, env.Event.SessionID)
		assert.Nil(t, env.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}
}

func TestForwarderSurvivesCallerCancellation(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received <- struct{}{}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(srv.URL, "", zap.NewNop())
	f.Forward(ctx, "message", &chat.Session{ID: "s1"}, nil)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery should not depend on the caller's context")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"event":"message"}`)
	a := Sign([]byte("k"), body)
	b := Sign([]byte("k"), body)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "sha256=")
	assert.NotEqual(t, a, Sign([]byte("other"), body))
}
