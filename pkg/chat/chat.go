// Package chat defines the conversation bounded context: sessions, messages,
// visitor identity, and the cross-channel message-ID correlation records that
// make edit/delete propagation between notification channels possible.
package chat

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Sender identifies who authored a message.
type Sender string

const (
	SenderVisitor  Sender = "visitor"
	SenderOperator Sender = "operator"
	SenderAI       Sender = "ai"
)

// Valid reports whether the sender is one of the three known values.
func (s Sender) Valid() bool {
	switch s {
	case SenderVisitor, SenderOperator, SenderAI:
		return true
	}
	return false
}

func (s Sender) String() string { return string(s) }

// MessageStatus is the delivery state of a message. Transitions are
// one-directional: sending → sent → delivered → read.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses so monotonicity checks reduce to an integer compare.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

// Error is a string-based domain error.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrSessionNotFound    Error = "session not found"
	ErrMessageNotFound    Error = "message not found"
	ErrIdentityIDRequired Error = "identity.id is required"
	ErrNoContent          Error = "content cannot be empty"
	ErrContentTooLong     Error = "message content exceeds maximum length"
	ErrInvalidSender      Error = "sender must be visitor, operator or ai"
	ErrInvalidReadStatus  Error = "status must be delivered or read"
	ErrNotMessageSender   Error = "can only edit or delete own messages"
	ErrMessageDeleted     Error = "cannot edit deleted message"
)

// MaxContentLength is the maximum allowed message content length in bytes.
const MaxContentLength = 4000

// ValidateContent checks the content invariant: non-empty (unless the message
// carries attachments) and at most MaxContentLength bytes.
func ValidateContent(content string, hasAttachments bool) error {
	if content == "" && !hasAttachments {
		return ErrNoContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
