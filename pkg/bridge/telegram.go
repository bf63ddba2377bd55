package bridge

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/pocketping/hub/pkg/chat"
)

// ---------------------------------------------------------------------------
// Telegram bridge
// ---------------------------------------------------------------------------

const telegramName = "telegram"

// TelegramConfig configures the Telegram bridge. Messages go to a single
// chat (group or private) identified by ChatID.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramBridge mirrors conversations into a Telegram chat. Operators
// reply by replying to the mirrored message; the webhook handler resolves
// the session from the replied-to message ID.
type TelegramBridge struct {
	bot    *telego.Bot
	chatID telego.ChatID
}

var (
	_ Bridge           = (*TelegramBridge)(nil)
	_ EditDeleter      = (*TelegramBridge)(nil)
	_ AINotifier       = (*TelegramBridge)(nil)
	_ IdentityNotifier = (*TelegramBridge)(nil)
)

func NewTelegramBridge(cfg TelegramConfig) (*TelegramBridge, error) {
	if err := requireField(telegramName, "token", cfg.Token); err != nil {
		return nil, err
	}
	if cfg.ChatID == 0 {
		return nil, &SetupError{Bridge: telegramName, Field: "chat_id", Reason: "is required"}
	}
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramBridge{bot: bot, chatID: telego.ChatID{ID: cfg.ChatID}}, nil
}

func (t *TelegramBridge) Name() string { return telegramName }

func (t *TelegramBridge) OnNewSession(ctx context.Context, session *chat.Session) error {
	var b strings.Builder
	b.WriteString("🆕 <b>New chat session</b>\n")
	fmt.Fprintf(&b, "Visitor: %s\n", html.EscapeString(session.VisitorName()))
	if m := session.Metadata; m != nil {
		if m.URL != "" {
			fmt.Fprintf(&b, "Page: %s\n", html.EscapeString(m.URL))
		}
		if m.Country != "" {
			fmt.Fprintf(&b, "Location: %s", html.EscapeString(m.Country))
			if m.City != "" {
				fmt.Fprintf(&b, " / %s", html.EscapeString(m.City))
			}
			b.WriteString("\n")
		}
		if m.DeviceType != "" {
			fmt.Fprintf(&b, "Device: %s", html.EscapeString(m.DeviceType))
			if m.Browser != "" {
				fmt.Fprintf(&b, ", %s", html.EscapeString(m.Browser))
			}
			if m.OS != "" {
				fmt.Fprintf(&b, ", %s", html.EscapeString(m.OS))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nReply to visitor messages to answer.")

	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    t.chatID,
		Text:      b.String(),
		ParseMode: telego.ModeHTML,
	})
	return err
}

func (t *TelegramBridge) OnVisitorMessage(ctx context.Context, session *chat.Session, msg *chat.Message) Result {
	text := fmt.Sprintf("💬 <b>%s</b>\n%s",
		html.EscapeString(session.VisitorName()),
		html.EscapeString(messageText(msg)))
	return t.send(ctx, text)
}

func (t *TelegramBridge) OnOperatorMessage(ctx context.Context, session *chat.Session, msg *chat.Message) Result {
	name := msg.SenderName
	if name == "" {
		name = "Operator"
	}
	if msg.Sender == chat.SenderAI {
		name = "🤖 " + name
	}
	text := fmt.Sprintf("↩️ <b>%s</b>\n%s",
		html.EscapeString(name),
		html.EscapeString(messageText(msg)))
	return t.send(ctx, text)
}

func (t *TelegramBridge) send(ctx context.Context, text string) Result {
	sent, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: telego.ModeHTML,
	})
	if err != nil {
		return ErrResult(err)
	}
	return OKResult(telegramName, strconv.Itoa(sent.MessageID))
}

func (t *TelegramBridge) OnMessageEdit(ctx context.Context, _ *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs) Result {
	messageID, err := strconv.Atoi(ids[telegramName])
	if err != nil {
		return ErrResult(fmt.Errorf("telegram native id %q: %w", ids[telegramName], err))
	}
	_, err = t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    t.chatID,
		MessageID: messageID,
		Text:      fmt.Sprintf("%s\n<i>(edited)</i>", html.EscapeString(msg.Content)),
		ParseMode: telego.ModeHTML,
	})
	if err != nil {
		return ErrResult(err)
	}
	return Result{OK: true}
}

func (t *TelegramBridge) OnMessageDelete(ctx context.Context, _ *chat.Session, _ *chat.Message, ids chat.BridgeMessageIDs) Result {
	messageID, err := strconv.Atoi(ids[telegramName])
	if err != nil {
		return ErrResult(fmt.Errorf("telegram native id %q: %w", ids[telegramName], err))
	}
	if err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    t.chatID,
		MessageID: messageID,
	}); err != nil {
		return ErrResult(err)
	}
	return Result{OK: true}
}

func (t *TelegramBridge) OnIdentityUpdate(ctx context.Context, session *chat.Session) error {
	id := session.Identity
	if id == nil {
		return nil
	}
	var b strings.Builder
	b.WriteString("👤 <b>Visitor identified</b>\n")
	fmt.Fprintf(&b, "Name: %s\n", html.EscapeString(session.VisitorName()))
	if id.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", html.EscapeString(id.Email))
	}
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    t.chatID,
		Text:      b.String(),
		ParseMode: telego.ModeHTML,
	})
	return err
}

func (t *TelegramBridge) OnAITakeover(ctx context.Context, session *chat.Session, reason string) error {
	text := fmt.Sprintf("🤖 <b>AI takeover</b>\nVisitor: %s", html.EscapeString(session.VisitorName()))
	if reason != "" {
		text += "\nReason: " + html.EscapeString(reason)
	}
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: telego.ModeHTML,
	})
	return err
}

func (t *TelegramBridge) OnTyping(ctx context.Context, _ *chat.Session) error {
	return t.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: t.chatID,
		Action: telego.ChatActionTyping,
	})
}

func (t *TelegramBridge) Shutdown(context.Context) error { return nil }

// messageText renders the content plus attachment names for channels that
// only receive metadata.
func messageText(msg *chat.Message) string {
	if len(msg.Attachments) == 0 {
		return msg.Content
	}
	var b strings.Builder
	b.WriteString(msg.Content)
	for _, a := range msg.Attachments {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "📎 %s (%s)", a.Name, a.URL)
	}
	return b.String()
}
