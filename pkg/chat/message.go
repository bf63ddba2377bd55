package chat

import "time"

// ---------------------------------------------------------------------------
// Message aggregate
// ---------------------------------------------------------------------------

// Message is a single chat message. Deleted messages are tombstoned, not
// removed: DeletedAt is set and the content survives for audit.
type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"sessionId"`
	Content     string        `json:"content"`
	Sender      Sender        `json:"sender"`
	SenderName  string        `json:"senderName,omitempty"`
	Status      MessageStatus `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	ReplyTo     string        `json:"replyTo,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	DeletedAt   *time.Time    `json:"deletedAt,omitempty"`
}

// Deleted reports whether the message has been tombstoned.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// MarkDelivered upgrades the status to delivered. The first delivery
// timestamp wins; later calls are no-ops.
func (m *Message) MarkDelivered(now time.Time) bool {
	if m.Status.Rank() >= StatusDelivered.Rank() {
		return false
	}
	m.Status = StatusDelivered
	if m.DeliveredAt == nil {
		t := now
		m.DeliveredAt = &t
	}
	return true
}

// MarkRead upgrades the status to read. Read implies delivered, so a
// missing delivery timestamp is filled in as well.
func (m *Message) MarkRead(now time.Time) bool {
	if m.Status.Rank() >= StatusRead.Rank() {
		return false
	}
	m.Status = StatusRead
	if m.DeliveredAt == nil {
		t := now
		m.DeliveredAt = &t
	}
	if m.ReadAt == nil {
		t := now
		m.ReadAt = &t
	}
	return true
}

// Attachment is file metadata carried alongside a message. The hub stores
// and relays metadata only; the bytes live elsewhere.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	URL      string `json:"url"`
}
