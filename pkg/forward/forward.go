// Package forward pushes hub events to an external webhook endpoint,
// signed so the receiver can verify origin.
package forward

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/chat"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-PocketPing-Signature"

// EventBody is the event half of the envelope: the event's name, the
// session it belongs to and an event-specific payload.
type EventBody struct {
	Name      string      `json:"name"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionInfo is the session snapshot sent with an event so receivers can
// resolve who it concerns without a callback.
type SessionInfo struct {
	ID        string                `json:"id"`
	VisitorID string                `json:"visitorId"`
	Metadata  *chat.SessionMetadata `json:"metadata,omitempty"`
	Identity  *chat.UserIdentity    `json:"identity,omitempty"`
}

// Envelope wraps every forwarded event. Session is absent only for
// server-wide broadcasts that have no session.
type Envelope struct {
	Event   EventBody    `json:"event"`
	Session *SessionInfo `json:"session,omitempty"`
	SentAt  time.Time    `json:"sentAt"`
}

// Forwarder delivers events to a webhook URL, fire-and-forget: failures
// are logged and never surface to the hub's callers.
type Forwarder struct {
	url    string
	secret []byte
	client *http.Client
	logger *zap.Logger
}

func New(url, secret string, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Forward sends one event asynchronously. Delivery is detached from the
// caller's context lifetime.
func (f *Forwarder) Forward(ctx context.Context, event string, session *chat.Session, payload interface{}) {
	now := time.Now().UTC()
	env := Envelope{
		Event:  EventBody{Name: event, Data: payload, Timestamp: now},
		SentAt: now,
	}
	if session != nil {
		env.Event.SessionID = session.ID
		env.Session = &SessionInfo{
			ID:        session.ID,
			VisitorID: session.VisitorID,
			Metadata:  session.Metadata,
			Identity:  session.Identity,
		}
	}
	body, err := json.Marshal(env)
	if err != nil {
		f.logger.Warn("webhook payload encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := f.deliver(sendCtx, body); err != nil {
			f.logger.Warn("webhook delivery failed",
				zap.String("event", event),
				zap.String("url", f.url),
				zap.Error(err))
		}
	}()
}

func (f *Forwarder) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(f.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(f.secret, body))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for a body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the raw body, in constant
// time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
