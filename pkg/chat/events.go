package chat

import "time"

// CustomEvent is an application-defined event emitted by a widget
// (page navigation, cart updates, whatever the embedding site sends).
type CustomEvent struct {
	Name      string                 `json:"name"`
	SessionID string                 `json:"sessionId"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ReadStatus is a client-reported delivery state transition.
type ReadStatus string

const (
	ReadStatusDelivered ReadStatus = "delivered"
	ReadStatusRead      ReadStatus = "read"
)

// Valid reports whether the value is one of the known read statuses.
func (r ReadStatus) Valid() bool {
	return r == ReadStatusDelivered || r == ReadStatusRead
}
