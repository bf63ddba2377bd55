package ipfilter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestFilterDisabledAllowsEverything(t *testing.T) {
	f := New(Config{Enabled: false, Mode: ModeBlocklist, Blocklist: []string{"10.0.0.1"}})
	d := f.Check("10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonDisabled, d.Reason)
}

func TestFilterAllowlistMode(t *testing.T) {
	f := New(Config{
		Enabled:   true,
		Mode:      ModeAllowlist,
		Allowlist: []string{"192.168.1.0/24", "10.0.0.5"},
	})

	tests := []struct {
		ip      string
		allowed bool
		reason  Reason
	}{
		{"192.168.1.42", true, ReasonAllowlist},
		{"10.0.0.5", true, ReasonAllowlist},
		{"10.0.0.6", false, ReasonNotInAllowlist},
		{"8.8.8.8", false, ReasonNotInAllowlist},
	}
	for _, tt := range tests {
		d := f.Check(tt.ip)
		assert.Equal(t, tt.allowed, d.Allowed, tt.ip)
		assert.Equal(t, tt.reason, d.Reason, tt.ip)
	}
}

func TestFilterBlocklistMode(t *testing.T) {
	f := New(Config{
		Enabled:   true,
		Mode:      ModeBlocklist,
		Blocklist: []string{"203.0.113.0/24"},
	})

	d := f.Check("203.0.113.9")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBlocklist, d.Reason)

	d = f.Check("198.51.100.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestFilterBothModeAllowlistWins(t *testing.T) {
	f := New(Config{
		Enabled:   true,
		Mode:      ModeBoth,
		Allowlist: []string{"203.0.113.7"},
		Blocklist: []string{"203.0.113.0/24"},
	})

	// In both the block range and the allowlist: allowlist wins.
	d := f.Check("203.0.113.7")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowlist, d.Reason)

	d = f.Check("203.0.113.8")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBlocklist, d.Reason)

	d = f.Check("1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestFilterCustomPredicateRunsFirst(t *testing.T) {
	f := New(Config{
		Enabled:   true,
		Mode:      ModeBlocklist,
		Blocklist: []string{"10.0.0.1"},
		Custom: func(ip string) *bool {
			switch ip {
			case "10.0.0.1":
				return boolPtr(true) // override the blocklist
			case "10.0.0.2":
				return boolPtr(false)
			}
			return nil // defer to the lists
		},
	})

	d := f.Check("10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonCustom, d.Reason)

	d = f.Check("10.0.0.2")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCustom, d.Reason)

	d = f.Check("10.0.0.3")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestFilterCustomPredicatePanicFallsThrough(t *testing.T) {
	f := New(Config{
		Enabled:   true,
		Mode:      ModeBlocklist,
		Blocklist: []string{"10.0.0.1"},
		Custom: func(string) *bool {
			panic("predicate bug")
		},
	})

	// The lists still decide when the predicate blows up.
	d := f.Check("10.0.0.1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBlocklist, d.Reason)

	d = f.Check("10.0.0.2")
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestFilterIPv6(t *testing.T) {
	f := New(Config{
		Enabled:   true,
		Mode:      ModeAllowlist,
		Allowlist: []string{"2001:db8::/32"},
	})
	assert.True(t, f.ShouldAllow("2001:db8::1"))
	assert.False(t, f.ShouldAllow("2001:db9::1"))
}

func TestFilterMalformedInput(t *testing.T) {
	f := New(Config{Enabled: true, Mode: ModeBlocklist, Blocklist: []string{"not-an-ip", "10.0.0.0/33"}})
	assert.True(t, f.ShouldAllow("10.0.0.1"), "malformed list entries are skipped")
	assert.False(t, f.ShouldAllow("garbage"), "unparseable client IPs are rejected")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.1.1:5555"
	assert.Equal(t, "10.1.1.1", ClientIP(r))

	r.Header.Set("X-Real-Ip", "9.9.9.9")
	assert.Equal(t, "9.9.9.9", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "1.1.1.1", ClientIP(r), "first forwarded entry is the client")

	r.Header.Set("Cf-Connecting-Ip", "3.3.3.3")
	assert.Equal(t, "3.3.3.3", ClientIP(r), "Cloudflare header has top priority")
}
