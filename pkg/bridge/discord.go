package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/pocketping/hub/pkg/chat"
)

// ---------------------------------------------------------------------------
// Discord bridge
// ---------------------------------------------------------------------------

const discordName = "discord"

// DiscordConfig configures the Discord bridge. The bot posts into a single
// channel; when WebhookURL is set, visitor messages go through the webhook
// so they appear under the visitor's name and avatar.
type DiscordConfig struct {
	BotToken   string
	ChannelID  string
	WebhookURL string
	AvatarURL  string
}

// DiscordBridge mirrors conversations into a Discord channel over the REST
// API. No gateway connection is opened; inbound traffic arrives through
// the interactions webhook.
type DiscordBridge struct {
	session      *discordgo.Session
	channelID    string
	webhookID    string
	webhookToken string
	avatarURL    string
}

var (
	_ Bridge      = (*DiscordBridge)(nil)
	_ EditDeleter = (*DiscordBridge)(nil)
	_ AINotifier  = (*DiscordBridge)(nil)
)

func NewDiscordBridge(cfg DiscordConfig) (*DiscordBridge, error) {
	if err := requireField(discordName, "bot_token", cfg.BotToken); err != nil {
		return nil, err
	}
	if err := requireField(discordName, "channel_id", cfg.ChannelID); err != nil {
		return nil, err
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}

	b := &DiscordBridge{
		session:   session,
		channelID: cfg.ChannelID,
		avatarURL: cfg.AvatarURL,
	}
	if cfg.WebhookURL != "" {
		id, token, err := parseDiscordWebhookURL(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		b.webhookID, b.webhookToken = id, token
	}
	return b, nil
}

// parseDiscordWebhookURL splits .../api/webhooks/{id}/{token}.
func parseDiscordWebhookURL(raw string) (id, token string, err error) {
	const marker = "/api/webhooks/"
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", "", &SetupError{Bridge: discordName, Field: "webhook_url", Reason: "must contain /api/webhooks/{id}/{token}"}
	}
	parts := strings.SplitN(raw[idx+len(marker):], "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &SetupError{Bridge: discordName, Field: "webhook_url", Reason: "must contain /api/webhooks/{id}/{token}"}
	}
	return parts[0], strings.TrimSuffix(parts[1], "/"), nil
}

func (d *DiscordBridge) Name() string { return discordName }

func (d *DiscordBridge) OnNewSession(ctx context.Context, session *chat.Session) error {
	var b strings.Builder
	b.WriteString("**New chat session**\n")
	fmt.Fprintf(&b, "Visitor: %s\n", session.VisitorName())
	if m := session.Metadata; m != nil && m.URL != "" {
		fmt.Fprintf(&b, "Page: <%s>\n", m.URL)
	}
	b.WriteString("Use `/reply` to answer.")

	_, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content: b.String(),
	}, discordgo.WithContext(ctx))
	return err
}

func (d *DiscordBridge) OnVisitorMessage(ctx context.Context, session *chat.Session, msg *chat.Message) Result {
	content := messageText(msg)

	if d.webhookID != "" {
		sent, err := d.session.WebhookExecute(d.webhookID, d.webhookToken, true, &discordgo.WebhookParams{
			Content:   content,
			Username:  session.VisitorName(),
			AvatarURL: d.avatarURL,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return ErrResult(err)
		}
		return OKResult(discordName, sent.ID)
	}

	sent, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("**%s**: %s", session.VisitorName(), content),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return ErrResult(err)
	}
	return OKResult(discordName, sent.ID)
}

func (d *DiscordBridge) OnOperatorMessage(ctx context.Context, _ *chat.Session, msg *chat.Message) Result {
	name := msg.SenderName
	if name == "" {
		name = "Operator"
	}
	sent, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("↩️ **%s**: %s", name, messageText(msg)),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return ErrResult(err)
	}
	return OKResult(discordName, sent.ID)
}

func (d *DiscordBridge) OnMessageEdit(ctx context.Context, _ *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs) Result {
	nativeID := ids[discordName]
	content := msg.Content + " *(edited)*"

	var err error
	if d.webhookID != "" {
		_, err = d.session.WebhookMessageEdit(d.webhookID, d.webhookToken, nativeID, &discordgo.WebhookEdit{
			Content: &content,
		}, discordgo.WithContext(ctx))
	} else {
		_, err = d.session.ChannelMessageEdit(d.channelID, nativeID, content, discordgo.WithContext(ctx))
	}
	if err != nil {
		return ErrResult(err)
	}
	return Result{OK: true}
}

func (d *DiscordBridge) OnMessageDelete(ctx context.Context, _ *chat.Session, _ *chat.Message, ids chat.BridgeMessageIDs) Result {
	nativeID := ids[discordName]

	var err error
	if d.webhookID != "" {
		err = d.session.WebhookMessageDelete(d.webhookID, d.webhookToken, nativeID, discordgo.WithContext(ctx))
	} else {
		err = d.session.ChannelMessageDelete(d.channelID, nativeID, discordgo.WithContext(ctx))
	}
	if err != nil {
		return ErrResult(err)
	}
	return Result{OK: true}
}

func (d *DiscordBridge) OnAITakeover(ctx context.Context, session *chat.Session, reason string) error {
	content := fmt.Sprintf("🤖 **AI takeover**\nVisitor: %s", session.VisitorName())
	if reason != "" {
		content += "\nReason: " + reason
	}
	_, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content: content,
	}, discordgo.WithContext(ctx))
	return err
}

func (d *DiscordBridge) OnTyping(ctx context.Context, _ *chat.Session) error {
	return d.session.ChannelTyping(d.channelID, discordgo.WithContext(ctx))
}

func (d *DiscordBridge) Shutdown(context.Context) error {
	return d.session.Close()
}
