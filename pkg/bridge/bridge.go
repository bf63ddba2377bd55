// Package bridge connects the hub to external notification channels
// (Telegram, Discord, Slack) and fans hub events out to them.
package bridge

import (
	"context"
	"fmt"

	"github.com/pocketping/hub/pkg/chat"
)

// Result is the outcome of delivering one event to one bridge. IDs carries
// the native message IDs the bridge assigned, keyed by bridge name, so
// later edits and deletes can target the mirrored message.
type Result struct {
	OK  bool
	IDs chat.BridgeMessageIDs
	Err error
}

// OKResult builds a success result carrying one native ID.
func OKResult(bridgeName, nativeID string) Result {
	return Result{OK: true, IDs: chat.BridgeMessageIDs{bridgeName: nativeID}}
}

// ErrResult builds a failure result.
func ErrResult(err error) Result {
	return Result{Err: err}
}

// Bridge is the minimal contract every notification channel implements.
// Implementations report failures through Result or error returns; they
// never panic across this boundary.
type Bridge interface {
	// Name is the stable channel identifier ("telegram", "discord",
	// "slack"). It keys BridgeMessageIDs entries and drives echo
	// suppression.
	Name() string

	// OnNewSession announces a newly created session.
	OnNewSession(ctx context.Context, session *chat.Session) error

	// OnVisitorMessage mirrors a visitor message into the channel.
	OnVisitorMessage(ctx context.Context, session *chat.Session, msg *chat.Message) Result

	// OnOperatorMessage mirrors an operator or AI reply into the channel
	// so operators on other channels see the full conversation.
	OnOperatorMessage(ctx context.Context, session *chat.Session, msg *chat.Message) Result

	// OnTyping signals that the visitor is typing.
	OnTyping(ctx context.Context, session *chat.Session) error

	// Shutdown releases channel resources.
	Shutdown(ctx context.Context) error
}

// EditDeleter is implemented by bridges whose channel supports editing and
// deleting already-mirrored messages. ids holds the message's native IDs
// across all bridges; an implementation picks its own entry.
type EditDeleter interface {
	OnMessageEdit(ctx context.Context, session *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs) Result
	OnMessageDelete(ctx context.Context, session *chat.Session, msg *chat.Message, ids chat.BridgeMessageIDs) Result
}

// IdentityNotifier is implemented by bridges that surface visitor
// identification in their channel.
type IdentityNotifier interface {
	OnIdentityUpdate(ctx context.Context, session *chat.Session) error
}

// CustomEventNotifier is implemented by bridges that mirror widget custom
// events into their channel.
type CustomEventNotifier interface {
	OnCustomEvent(ctx context.Context, session *chat.Session, event chat.CustomEvent) error
}

// AINotifier is implemented by bridges that announce an AI agent taking
// over a conversation, so operators know the session is being handled.
type AINotifier interface {
	OnAITakeover(ctx context.Context, session *chat.Session, reason string) error
}

// ReadNotifier is implemented by bridges that want read-receipt
// notifications. Off by default; the registry only calls it when
// configured to mirror receipts.
type ReadNotifier interface {
	OnMessageRead(ctx context.Context, session *chat.Session, msg *chat.Message) error
}

// SetupError reports an invalid bridge configuration.
type SetupError struct {
	Bridge string
	Field  string
	Reason string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s bridge setup: %s %s", e.Bridge, e.Field, e.Reason)
}

func requireField(bridgeName, field, value string) error {
	if value == "" {
		return &SetupError{Bridge: bridgeName, Field: field, Reason: "is required"}
	}
	return nil
}
