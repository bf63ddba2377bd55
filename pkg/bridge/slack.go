package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/pocketping/hub/pkg/chat"
)

// ---------------------------------------------------------------------------
// Slack bridge
// ---------------------------------------------------------------------------

const slackName = "slack"

// SlackConfig configures the Slack bridge. BotToken is required for
// mirrored messages (the Web API returns the message ts that edit/delete
// correlation needs); WebhookURL, when set, is used for session notices.
type SlackConfig struct {
	BotToken   string
	ChannelID  string
	WebhookURL string
}

// SlackBridge mirrors conversations into a Slack channel. Each visitor
// message is posted standalone; operators answer in its thread, and the
// events webhook resolves the session from the thread's parent ts.
type SlackBridge struct {
	api        *slack.Client
	channelID  string
	webhookURL string
}

var (
	_ Bridge      = (*SlackBridge)(nil)
	_ EditDeleter = (*SlackBridge)(nil)
	_ AINotifier  = (*SlackBridge)(nil)
)

func NewSlackBridge(cfg SlackConfig) (*SlackBridge, error) {
	if err := requireField(slackName, "bot_token", cfg.BotToken); err != nil {
		return nil, err
	}
	if err := requireField(slackName, "channel_id", cfg.ChannelID); err != nil {
		return nil, err
	}
	return &SlackBridge{
		api:        slack.New(cfg.BotToken),
		channelID:  cfg.ChannelID,
		webhookURL: cfg.WebhookURL,
	}, nil
}

func (s *SlackBridge) Name() string { return slackName }

func (s *SlackBridge) OnNewSession(ctx context.Context, session *chat.Session) error {
	var b strings.Builder
	b.WriteString(":wave: *New chat session*\n")
	fmt.Fprintf(&b, "Visitor: %s\n", session.VisitorName())
	if m := session.Metadata; m != nil && m.URL != "" {
		fmt.Fprintf(&b, "Page: %s\n", m.URL)
	}
	b.WriteString("Reply in a message's thread to answer.")

	if s.webhookURL != "" {
		return slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{
			Text:     b.String(),
			Username: "PocketPing",
		})
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(b.String(), false))
	return err
}

func (s *SlackBridge) OnVisitorMessage(ctx context.Context, session *chat.Session, msg *chat.Message) Result {
	text := fmt.Sprintf(":speech_balloon: *%s*\n%s", session.VisitorName(), messageText(msg))
	return s.post(ctx, text)
}

func (s *SlackBridge) OnOperatorMessage(ctx context.Context, _ *chat.Session, msg *chat.Message) Result {
	name := msg.SenderName
	if name == "" {
		name = "Operator"
	}
	text := fmt.Sprintf(":leftwards_arrow_with_hook: *%s*\n%s", name, messageText(msg))
	return s.post(ctx, text)
}

func (s *SlackBridge) post(ctx context.Context, text string) Result {
	_, ts, err := s.api.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(text, false))
	if err != nil {
		return ErrResult(err)
	}
	return OKResult(slackName, ts)
}

func (s *SlackBridge) OnMessageEdit(ctx context.Context, session *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs) Result {
	name := session.VisitorName()
	if msg.Sender != chat.SenderVisitor {
		name = msg.SenderName
		if name == "" {
			name = "Operator"
		}
	}
	text := fmt.Sprintf(":speech_balloon: *%s*\n%s _(edited)_", name, msg.Content)
	_, _, _, err := s.api.UpdateMessageContext(ctx, s.channelID, ids[slackName],
		slack.MsgOptionText(text, false))
	if err != nil {
		return ErrResult(err)
	}
	return Result{OK: true}
}

func (s *SlackBridge) OnMessageDelete(ctx context.Context, _ *chat.Session, _ *chat.Message, ids chat.BridgeMessageIDs) Result {
	if _, _, err := s.api.DeleteMessageContext(ctx, s.channelID, ids[slackName]); err != nil {
		return ErrResult(err)
	}
	return Result{OK: true}
}

func (s *SlackBridge) OnAITakeover(ctx context.Context, session *chat.Session, reason string) error {
	text := fmt.Sprintf(":robot_face: *AI takeover*\nVisitor: %s", session.VisitorName())
	if reason != "" {
		text += "\nReason: " + reason
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(text, false))
	return err
}

// OnTyping is a no-op: the Slack Web API offers no typing indicator for
// bot users.
func (s *SlackBridge) OnTyping(context.Context, *chat.Session) error { return nil }

func (s *SlackBridge) Shutdown(context.Context) error { return nil }
