package chat

import "strings"

// ---------------------------------------------------------------------------
// User-agent sniffing
// ---------------------------------------------------------------------------

// ParseUserAgent fills the device, browser and OS fields of the metadata
// from its UserAgent string. Best effort; unknown agents leave the fields
// empty.
func ParseUserAgent(m *SessionMetadata) {
	if m == nil || m.UserAgent == "" {
		return
	}
	ua := strings.ToLower(m.UserAgent)

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		m.DeviceType = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		m.DeviceType = "mobile"
	default:
		m.DeviceType = "desktop"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		m.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		m.Browser = "Opera"
	case strings.Contains(ua, "chrome"):
		m.Browser = "Chrome"
	case strings.Contains(ua, "firefox"):
		m.Browser = "Firefox"
	case strings.Contains(ua, "safari"):
		m.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		m.OS = "Windows"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		m.OS = "iOS"
	case strings.Contains(ua, "mac os"):
		m.OS = "macOS"
	case strings.Contains(ua, "android"):
		m.OS = "Android"
	case strings.Contains(ua, "linux"):
		m.OS = "Linux"
	}
}
