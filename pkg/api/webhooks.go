package api

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"github.com/pocketping/hub/pkg/chat"
	"github.com/pocketping/hub/pkg/hub"
)

// ---------------------------------------------------------------------------
// Inbound bridge webhooks
// ---------------------------------------------------------------------------

// WebhookConfig holds the per-channel credentials for verifying and
// interpreting inbound traffic.
type WebhookConfig struct {
	// TelegramSecretToken matches Telegram's X-Telegram-Bot-Api-Secret-Token
	// header when set.
	TelegramSecretToken string
	// SlackSigningSecret verifies Slack event signatures.
	SlackSigningSecret string
	// DiscordPublicKey (hex) verifies interaction signatures.
	DiscordPublicKey string
}

// WebhookHandlers turns inbound channel traffic (operator replies, edits,
// deletes) into hub operations. Sessions are resolved through the stored
// bridge message IDs of the message being replied to.
type WebhookHandlers struct {
	hub        *hub.Hub
	logger     *zap.Logger
	cfg        WebhookConfig
	discordKey ed25519.PublicKey
}

func NewWebhookHandlers(h *hub.Hub, logger *zap.Logger, cfg WebhookConfig) (*WebhookHandlers, error) {
	wh := &WebhookHandlers{hub: h, logger: logger, cfg: cfg}
	if cfg.DiscordPublicKey != "" {
		key, err := hex.DecodeString(cfg.DiscordPublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("discord public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
		}
		wh.discordKey = ed25519.PublicKey(key)
	}
	return wh, nil
}

// Mount attaches the webhook routes.
func (wh *WebhookHandlers) Mount(r chi.Router) {
	r.Post("/webhooks/telegram", wh.handleTelegram)
	r.Post("/webhooks/slack", wh.handleSlack)
	r.Post("/webhooks/discord", wh.handleDiscord)
}

// ---------------------------------------------------------------------------
// Telegram
// ---------------------------------------------------------------------------

func (wh *WebhookHandlers) handleTelegram(w http.ResponseWriter, r *http.Request) {
	if wh.cfg.TelegramSecretToken != "" &&
		r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != wh.cfg.TelegramSecretToken {
		writeError(w, http.StatusUnauthorized, "bad secret token")
		return
	}

	var update telego.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update payload")
		return
	}

	switch {
	case update.Message != nil:
		wh.telegramMessage(r, update.Message)
	case update.EditedMessage != nil:
		wh.telegramEdit(r, update.EditedMessage)
	}
	// Telegram expects 200 regardless, or it keeps retrying.
	w.WriteHeader(http.StatusOK)
}

func (wh *WebhookHandlers) telegramMessage(r *http.Request, msg *telego.Message) {
	ctx := r.Context()

	switch strings.TrimSpace(msg.Text) {
	case "/online":
		wh.hub.SetOperatorOnline(true)
		return
	case "/offline":
		wh.hub.SetOperatorOnline(false)
		return
	}

	if msg.ReplyToMessage == nil || msg.Text == "" {
		return
	}
	ref, err := wh.hub.ResolveBridgeMessage(ctx, "telegram", strconv.Itoa(msg.ReplyToMessage.MessageID))
	if err != nil {
		wh.logger.Debug("telegram reply does not map to a session",
			zap.Int("reply_to", msg.ReplyToMessage.MessageID))
		return
	}

	sent, err := wh.hub.SendMessage(ctx, hub.SendMessageParams{
		SessionID:    ref.SessionID,
		Content:      msg.Text,
		Sender:       chat.SenderOperator,
		SenderName:   telegramSenderName(msg),
		SourceBridge: "telegram",
	})
	if err != nil {
		wh.logger.Warn("telegram operator message rejected", zap.Error(err))
		return
	}
	// Remember this reply's own ID so later edits of it resolve too.
	if err := wh.hub.RecordBridgeMessageID(ctx, sent.ID, "telegram", strconv.Itoa(msg.MessageID)); err != nil {
		wh.logger.Warn("recording telegram message id failed", zap.Error(err))
	}
}

func (wh *WebhookHandlers) telegramEdit(r *http.Request, msg *telego.Message) {
	ctx := r.Context()
	ref, err := wh.hub.ResolveBridgeMessage(ctx, "telegram", strconv.Itoa(msg.MessageID))
	if err != nil {
		return
	}
	if _, err := wh.hub.EditMessage(ctx, ref.SessionID, ref.ID, msg.Text, ref.Sender, "telegram"); err != nil {
		wh.logger.Warn("telegram edit rejected", zap.Error(err))
	}
}

func telegramSenderName(msg *telego.Message) string {
	if msg.From == nil {
		return ""
	}
	name := msg.From.FirstName
	if msg.From.LastName != "" {
		name += " " + msg.From.LastName
	}
	return name
}

// ---------------------------------------------------------------------------
// Slack
// ---------------------------------------------------------------------------

// slackEnvelope covers the Events API payloads we act on. Parsed by hand:
// the envelope is small and stable, and the full event catalog is not
// needed.
type slackEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
	Event     slackEvent `json:"event"`
}

type slackEvent struct {
	Type      string        `json:"type"`
	Subtype   string        `json:"subtype"`
	Text      string        `json:"text"`
	TS        string        `json:"ts"`
	ThreadTS  string        `json:"thread_ts"`
	BotID     string        `json:"bot_id"`
	UserName  string        `json:"username"`
	Message   *slackMessage `json:"message"`
	DeletedTS string        `json:"deleted_ts"`
}

type slackMessage struct {
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	BotID    string `json:"bot_id"`
}

func (wh *WebhookHandlers) handleSlack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if wh.cfg.SlackSigningSecret != "" && !wh.verifySlackSignature(r, body) {
		writeError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	var envelope slackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	switch envelope.Type {
	case "url_verification":
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return
	case "event_callback":
		wh.slackEvent(r, envelope.Event)
	}
	w.WriteHeader(http.StatusOK)
}

// verifySlackSignature implements Slack's v0 signing scheme: HMAC-SHA256
// over "v0:{timestamp}:{body}".
func (wh *WebhookHandlers) verifySlackSignature(r *http.Request, body []byte) bool {
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	given := r.Header.Get("X-Slack-Signature")
	if ts == "" || given == "" {
		return false
	}
	if unix, err := strconv.ParseInt(ts, 10, 64); err != nil ||
		time.Since(time.Unix(unix, 0)) > 5*time.Minute {
		return false
	}

	mac := hmac.New(sha256.New, []byte(wh.cfg.SlackSigningSecret))
	fmt.Fprintf(mac, "v0:%s:", ts)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(given))
}

func (wh *WebhookHandlers) slackEvent(r *http.Request, event slackEvent) {
	if event.Type != "message" {
		return
	}
	ctx := r.Context()

	switch event.Subtype {
	case "":
		// Operator reply in a mirrored message's thread. Bot posts echo
		// back through this webhook; drop them.
		if event.BotID != "" || event.ThreadTS == "" || event.Text == "" {
			return
		}
		ref, err := wh.hub.ResolveBridgeMessage(ctx, "slack", event.ThreadTS)
		if err != nil {
			return
		}
		sent, err := wh.hub.SendMessage(ctx, hub.SendMessageParams{
			SessionID:    ref.SessionID,
			Content:      event.Text,
			Sender:       chat.SenderOperator,
			SenderName:   event.UserName,
			SourceBridge: "slack",
		})
		if err != nil {
			wh.logger.Warn("slack operator message rejected", zap.Error(err))
			return
		}
		if err := wh.hub.RecordBridgeMessageID(ctx, sent.ID, "slack", event.TS); err != nil {
			wh.logger.Warn("recording slack message ts failed", zap.Error(err))
		}

	case "message_changed":
		if event.Message == nil || event.Message.BotID != "" {
			return
		}
		ref, err := wh.hub.ResolveBridgeMessage(ctx, "slack", event.Message.TS)
		if err != nil {
			return
		}
		if _, err := wh.hub.EditMessage(ctx, ref.SessionID, ref.ID, event.Message.Text, ref.Sender, "slack"); err != nil {
			wh.logger.Warn("slack edit rejected", zap.Error(err))
		}

	case "message_deleted":
		ref, err := wh.hub.ResolveBridgeMessage(ctx, "slack", event.DeletedTS)
		if err != nil {
			return
		}
		if err := wh.hub.DeleteMessage(ctx, ref.SessionID, ref.ID, ref.Sender, "slack"); err != nil {
			wh.logger.Warn("slack delete rejected", zap.Error(err))
		}
	}
}

// ---------------------------------------------------------------------------
// Discord
// ---------------------------------------------------------------------------

func (wh *WebhookHandlers) handleDiscord(w http.ResponseWriter, r *http.Request) {
	if wh.discordKey != nil && !discordgo.VerifyInteraction(r, wh.discordKey) {
		writeError(w, http.StatusUnauthorized, "bad signature")
		return
	}

	var interaction discordgo.Interaction
	if err := json.NewDecoder(r.Body).Decode(&interaction); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interaction payload")
		return
	}

	switch interaction.Type {
	case discordgo.InteractionPing:
		writeJSON(w, http.StatusOK, discordgo.InteractionResponse{
			Type: discordgo.InteractionResponsePong,
		})

	case discordgo.InteractionApplicationCommand:
		wh.discordCommand(w, r, &interaction)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// discordCommand handles the /reply slash command: the operator names the
// session explicitly since the bot mirrors every conversation into one
// channel.
func (wh *WebhookHandlers) discordCommand(w http.ResponseWriter, r *http.Request, interaction *discordgo.Interaction) {
	data := interaction.ApplicationCommandData()
	if data.Name != "reply" {
		respondDiscord(w, "Unknown command.")
		return
	}

	var sessionID, content string
	for _, opt := range data.Options {
		switch opt.Name {
		case "session":
			sessionID = opt.StringValue()
		case "message":
			content = opt.StringValue()
		}
	}
	if sessionID == "" || content == "" {
		respondDiscord(w, "Both session and message are required.")
		return
	}

	var senderName string
	if interaction.Member != nil && interaction.Member.User != nil {
		senderName = interaction.Member.User.Username
	} else if interaction.User != nil {
		senderName = interaction.User.Username
	}

	_, err := wh.hub.SendMessage(r.Context(), hub.SendMessageParams{
		SessionID:    sessionID,
		Content:      content,
		Sender:       chat.SenderOperator,
		SenderName:   senderName,
		SourceBridge: "discord",
	})
	if err != nil {
		respondDiscord(w, fmt.Sprintf("Could not send: %v", err))
		return
	}
	respondDiscord(w, "Sent.")
}

func respondDiscord(w http.ResponseWriter, content string) {
	writeJSON(w, http.StatusOK, discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
