package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/chat"
	"github.com/pocketping/hub/pkg/hub"
)

func newWebhookServer(t *testing.T, cfg WebhookConfig) (http.Handler, *hub.Hub) {
	t.Helper()
	srv, h := newTestServer(t)
	wh, err := NewWebhookHandlers(h, zap.NewNop(), cfg)
	require.NoError(t, err)
	srv.webhooks = wh
	return srv.Router(), h
}

func seedBridgedMessage(t *testing.T, router http.Handler, h *hub.Hub, bridgeName, nativeID string) (sessionID string, msg *chat.Message) {
	t.Helper()
	ctx := t.Context()
	sessionID = connectSession(t, router)
	sent, err := h.SendMessage(ctx, hub.SendMessageParams{
		SessionID: sessionID, Content: "visitor question", Sender: chat.SenderVisitor,
	})
	require.NoError(t, err)
	require.NoError(t, h.RecordBridgeMessageID(ctx, sent.ID, bridgeName, nativeID))
	return sessionID, sent
}

func TestTelegramWebhookReply(t *testing.T) {
	router, h := newWebhookServer(t, WebhookConfig{})
	sessionID, _ := seedBridgedMessage(t, router, h, "telegram", "555")

	update := map[string]interface{}{
		"update_id": 1,
		"message": map[string]interface{}{
			"message_id": 777,
			"text":       "operator answer",
			"from":       map[string]interface{}{"id": 42, "first_name": "Olga", "last_name": "K"},
			"chat":       map[string]interface{}{"id": -100, "type": "group"},
			"reply_to_message": map[string]interface{}{
				"message_id": 555,
				"chat":       map[string]interface{}{"id": -100, "type": "group"},
			},
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/webhooks/telegram", update)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := h.Messages(t.Context(), sessionID, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.SenderOperator, msgs[1].Sender)
	assert.Equal(t, "operator answer", msgs[1].Content)
	assert.Equal(t, "Olga K", msgs[1].SenderName)

	// The reply's own Telegram ID resolves, so a later edit finds it.
	ref, err := h.ResolveBridgeMessage(t.Context(), "telegram", "777")
	require.NoError(t, err)
	assert.Equal(t, msgs[1].ID, ref.ID)
}

func TestTelegramWebhookEdit(t *testing.T) {
	router, h := newWebhookServer(t, WebhookConfig{})
	sessionID, _ := seedBridgedMessage(t, router, h, "telegram", "555")

	reply := map[string]interface{}{
		"update_id": 1,
		"message": map[string]interface{}{
			"message_id":       777,
			"text":             "first version",
			"chat":             map[string]interface{}{"id": -100, "type": "group"},
			"reply_to_message": map[string]interface{}{"message_id": 555, "chat": map[string]interface{}{"id": -100, "type": "group"}},
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/webhooks/telegram", reply).Code)

	edit := map[string]interface{}{
		"update_id": 2,
		"edited_message": map[string]interface{}{
			"message_id": 777,
			"text":       "second version",
			"chat":       map[string]interface{}{"id": -100, "type": "group"},
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/webhooks/telegram", edit).Code)

	msgs, err := h.Messages(t.Context(), sessionID, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second version", msgs[1].Content)
	assert.NotNil(t, msgs[1].EditedAt)
}

func TestTelegramWebhookSecretToken(t *testing.T) {
	router, _ := newWebhookServer(t, WebhookConfig{TelegramSecretToken: "s3cret"})

	body := bytes.NewBufferString(`{"update_id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/telegram", bytes.NewBufferString(`{"update_id":1}`))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTelegramWebhookPresenceCommands(t *testing.T) {
	router, h := newWebhookServer(t, WebhookConfig{})

	online := map[string]interface{}{
		"update_id": 1,
		"message": map[string]interface{}{
			"message_id": 1,
			"text":       "/online",
			"chat":       map[string]interface{}{"id": -100, "type": "group"},
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/webhooks/telegram", online).Code)
	assert.True(t, h.OperatorOnline())
}

func slackSign(secret string, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", ts)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSlackWebhookURLVerification(t *testing.T) {
	router, _ := newWebhookServer(t, WebhookConfig{})

	rec := doJSON(t, router, http.MethodPost, "/webhooks/slack", map[string]string{
		"type":      "url_verification",
		"challenge": "abc123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"abc123"}`, rec.Body.String())
}

func TestSlackWebhookSignature(t *testing.T) {
	router, _ := newWebhookServer(t, WebhookConfig{SlackSigningSecret: "sss"})
	body := []byte(`{"type":"url_verification","challenge":"x"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", slackSign("sss", ts, body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Stale timestamps are replays.
	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", stale)
	req.Header.Set("X-Slack-Signature", slackSign("sss", stale, body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackWebhookThreadReply(t *testing.T) {
	router, h := newWebhookServer(t, WebhookConfig{})
	sessionID, _ := seedBridgedMessage(t, router, h, "slack", "1700000000.000100")

	event := map[string]interface{}{
		"type": "event_callback",
		"event": map[string]interface{}{
			"type":      "message",
			"text":      "answer from slack",
			"ts":        "1700000001.000200",
			"thread_ts": "1700000000.000100",
			"username":  "kate",
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/webhooks/slack", event).Code)

	msgs, err := h.Messages(t.Context(), sessionID, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer from slack", msgs[1].Content)
	assert.Equal(t, chat.SenderOperator, msgs[1].Sender)

	// Bot echoes must be dropped.
	echo := map[string]interface{}{
		"type": "event_callback",
		"event": map[string]interface{}{
			"type":      "message",
			"text":      "mirrored copy",
			"ts":        "1700000002.000300",
			"thread_ts": "1700000000.000100",
			"bot_id":    "B123",
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/webhooks/slack", echo).Code)
	msgs, err = h.Messages(t.Context(), sessionID, "", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSlackWebhookDelete(t *testing.T) {
	router, h := newWebhookServer(t, WebhookConfig{})
	sessionID, seeded := seedBridgedMessage(t, router, h, "slack", "1700000000.000100")

	event := map[string]interface{}{
		"type": "event_callback",
		"event": map[string]interface{}{
			"type":       "message",
			"subtype":    "message_deleted",
			"deleted_ts": "1700000000.000100",
		},
	}
	require.Equal(t, http.StatusOK, doJSON(t, router, http.MethodPost, "/webhooks/slack", event).Code)

	msgs, err := h.Messages(t.Context(), sessionID, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, seeded.ID, msgs[0].ID)
	assert.NotNil(t, msgs[0].DeletedAt)
}

func TestDiscordWebhookPing(t *testing.T) {
	router, _ := newWebhookServer(t, WebhookConfig{})

	rec := doJSON(t, router, http.MethodPost, "/webhooks/discord", map[string]interface{}{"type": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Type int `json:"type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Type, "ping answers pong")
}

func TestDiscordWebhookReplyCommand(t *testing.T) {
	router, h := newWebhookServer(t, WebhookConfig{})
	sessionID := connectSession(t, router)

	interaction := map[string]interface{}{
		"type": 2,
		"data": map[string]interface{}{
			"name": "reply",
			"options": []map[string]interface{}{
				{"name": "session", "type": 3, "value": sessionID},
				{"name": "message", "type": 3, "value": "discord operator here"},
			},
		},
		"member": map[string]interface{}{
			"user": map[string]interface{}{"id": "1", "username": "mod"},
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/webhooks/discord", interaction)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := h.Messages(t.Context(), sessionID, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "discord operator here", msgs[0].Content)
	assert.Equal(t, "mod", msgs[0].SenderName)
	assert.Equal(t, chat.SenderOperator, msgs[0].Sender)
}

func TestDiscordWebhookRejectsBadPublicKey(t *testing.T) {
	_, err := NewWebhookHandlers(nil, zap.NewNop(), WebhookConfig{DiscordPublicKey: "nothex"})
	assert.Error(t, err)
}
