// Package ipfilter decides which client IPs may reach the widget API,
// by allowlist, blocklist or a custom predicate.
package ipfilter

import (
	"net"
	"net/http"
	"strings"
)

// Mode selects which lists apply.
type Mode string

const (
	ModeAllowlist Mode = "allowlist"
	ModeBlocklist Mode = "blocklist"
	ModeBoth      Mode = "both"
)

// Reason explains a filter decision.
type Reason string

const (
	ReasonDisabled       Reason = "disabled"
	ReasonDefault        Reason = "default"
	ReasonAllowlist      Reason = "allowlist"
	ReasonBlocklist      Reason = "blocklist"
	ReasonNotInAllowlist Reason = "not_in_allowlist"
	ReasonCustom         Reason = "custom"
)

// Decision is the outcome of one check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// CustomFunc lets the embedding application override list decisions. A nil
// return value falls through to the lists; a non-nil value is final.
type CustomFunc func(ip string) *bool

// Config declares the filter policy. Entries are exact IPs or CIDR ranges.
type Config struct {
	Enabled   bool       `mapstructure:"enabled"`
	Mode      Mode       `mapstructure:"mode"`
	Allowlist []string   `mapstructure:"allowlist"`
	Blocklist []string   `mapstructure:"blocklist"`
	Custom    CustomFunc `mapstructure:"-"`
}

// Filter applies the configured policy.
type Filter struct {
	cfg       Config
	allowNets []*net.IPNet
	allowIPs  map[string]struct{}
	blockNets []*net.IPNet
	blockIPs  map[string]struct{}
}

// New compiles the lists. Malformed entries are skipped.
func New(cfg Config) *Filter {
	f := &Filter{cfg: cfg}
	f.allowNets, f.allowIPs = compile(cfg.Allowlist)
	f.blockNets, f.blockIPs = compile(cfg.Blocklist)
	return f
}

func compile(entries []string) ([]*net.IPNet, map[string]struct{}) {
	var nets []*net.IPNet
	ips := make(map[string]struct{})
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, ipnet, err := net.ParseCIDR(entry); err == nil {
				nets = append(nets, ipnet)
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			ips[ip.String()] = struct{}{}
		}
	}
	return nets, ips
}

// Check decides whether ip may connect. Order: disabled filter allows
// everything; the custom predicate is consulted first; in allowlist modes
// membership is required; in blocklist modes membership denies.
func (f *Filter) Check(ip string) Decision {
	if !f.cfg.Enabled {
		return Decision{Allowed: true, Reason: ReasonDisabled}
	}
	if f.cfg.Custom != nil {
		if verdict := f.custom(ip); verdict != nil {
			return Decision{Allowed: *verdict, Reason: ReasonCustom}
		}
	}

	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Decision{Allowed: false, Reason: ReasonDefault}
	}

	mode := f.cfg.Mode
	if mode == "" {
		mode = ModeBlocklist
	}

	switch mode {
	case ModeAllowlist:
		if matches(parsed, f.allowNets, f.allowIPs) {
			return Decision{Allowed: true, Reason: ReasonAllowlist}
		}
		return Decision{Allowed: false, Reason: ReasonNotInAllowlist}

	case ModeBlocklist:
		if matches(parsed, f.blockNets, f.blockIPs) {
			return Decision{Allowed: false, Reason: ReasonBlocklist}
		}
		return Decision{Allowed: true, Reason: ReasonDefault}

	case ModeBoth:
		// Allowlist wins over blocklist.
		if matches(parsed, f.allowNets, f.allowIPs) {
			return Decision{Allowed: true, Reason: ReasonAllowlist}
		}
		if matches(parsed, f.blockNets, f.blockIPs) {
			return Decision{Allowed: false, Reason: ReasonBlocklist}
		}
		return Decision{Allowed: true, Reason: ReasonDefault}
	}
	return Decision{Allowed: true, Reason: ReasonDefault}
}

// custom runs the predicate. A panicking predicate counts as no verdict,
// so the lists still decide.
func (f *Filter) custom(ip string) (verdict *bool) {
	defer func() {
		if recover() != nil {
			verdict = nil
		}
	}()
	return f.cfg.Custom(ip)
}

// ShouldAllow is Check without the reason.
func (f *Filter) ShouldAllow(ip string) bool {
	return f.Check(ip).Allowed
}

func matches(ip net.IP, nets []*net.IPNet, ips map[string]struct{}) bool {
	if _, ok := ips[ip.String()]; ok {
		return true
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the real client IP from a request, honoring the usual
// proxy headers before falling back to the socket address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("Cf-Connecting-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
