package chat

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------------------------------------
// Session aggregate
// ---------------------------------------------------------------------------

// Session is one continuous visitor conversation. At most one session per
// visitor ID is "current": lookups by visitor ID return the most recently
// active session.
type Session struct {
	ID             string           `json:"id"`
	VisitorID      string           `json:"visitorId"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastActivity   time.Time        `json:"lastActivity"`
	OperatorOnline bool             `json:"operatorOnline"`
	AIActive       bool             `json:"aiActive"`
	Metadata       *SessionMetadata `json:"metadata,omitempty"`
	Identity       *UserIdentity    `json:"identity,omitempty"`
}

// Touch bumps the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// MergeIdentity merges a new identity onto the session, preserving custom
// fields that the incoming identity does not carry.
func (s *Session) MergeIdentity(identity *UserIdentity) {
	if identity == nil {
		return
	}
	if s.Identity == nil {
		s.Identity = identity
		return
	}
	merged := *s.Identity
	merged.ID = identity.ID
	if identity.Email != "" {
		merged.Email = identity.Email
	}
	if identity.Name != "" {
		merged.Name = identity.Name
	}
	if len(identity.Extra) > 0 {
		if merged.Extra == nil {
			merged.Extra = make(map[string]interface{}, len(identity.Extra))
		}
		for k, v := range identity.Extra {
			merged.Extra[k] = v
		}
	}
	s.Identity = &merged
}

// VisitorName picks the friendliest available label for the visitor.
func (s *Session) VisitorName() string {
	if s.Identity != nil && s.Identity.Name != "" {
		return s.Identity.Name
	}
	if s.Identity != nil && s.Identity.Email != "" {
		return s.Identity.Email
	}
	return s.VisitorID
}

// SessionMetadata carries free-form, non-authoritative context about the
// visitor's page and client. Geo and device fields are populated server-side.
type SessionMetadata struct {
	URL              string `json:"url,omitempty"`
	Referrer         string `json:"referrer,omitempty"`
	PageTitle        string `json:"pageTitle,omitempty"`
	UserAgent        string `json:"userAgent,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	IP               string `json:"ip,omitempty"`
	Country          string `json:"country,omitempty"`
	City             string `json:"city,omitempty"`
	DeviceType       string `json:"deviceType,omitempty"`
	Browser          string `json:"browser,omitempty"`
	OS               string `json:"os,omitempty"`
}

// MergeServerFields copies the server-populated fields from prev so a widget
// reconnect cannot clobber them.
func (m *SessionMetadata) MergeServerFields(prev *SessionMetadata) {
	if prev == nil {
		return
	}
	if prev.IP != "" {
		m.IP = prev.IP
	}
	if prev.Country != "" {
		m.Country = prev.Country
	}
	if prev.City != "" {
		m.City = prev.City
	}
}

// ---------------------------------------------------------------------------
// User identity
// ---------------------------------------------------------------------------

// UserIdentity is the identity a visitor claims through the widget's
// identify() call. ID is required; Extra holds arbitrary custom fields
// (plan, company, ...) which are flattened into the JSON object.
type UserIdentity struct {
	ID    string                 `json:"id"`
	Email string                 `json:"email,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Extra map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object.
func (u UserIdentity) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range u.Extra {
		if k != "id" && k != "email" && k != "name" {
			out[k] = v
		}
	}
	if u.ID != "" {
		out["id"] = u.ID
	}
	if u.Email != "" {
		out["email"] = u.Email
	}
	if u.Name != "" {
		out["name"] = u.Name
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known fields from custom ones.
func (u *UserIdentity) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if id, ok := raw["id"].(string); ok {
		u.ID = id
	}
	if email, ok := raw["email"].(string); ok {
		u.Email = email
	}
	if name, ok := raw["name"].(string); ok {
		u.Name = name
	}
	u.Extra = make(map[string]interface{})
	for k, v := range raw {
		if k != "id" && k != "email" && k != "name" {
			u.Extra[k] = v
		}
	}
	return nil
}
