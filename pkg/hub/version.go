package hub

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Widget version compatibility
// ---------------------------------------------------------------------------

// VersionStatus classifies how a widget build relates to the server's
// supported range.
type VersionStatus string

const (
	VersionOK          VersionStatus = "ok"
	VersionOutdated    VersionStatus = "outdated"
	VersionDeprecated  VersionStatus = "deprecated"
	VersionUnsupported VersionStatus = "unsupported"
)

// VersionConstraints is the server's view of acceptable widget versions.
// Empty fields disable the corresponding check.
type VersionConstraints struct {
	MinSupported string `json:"minSupported,omitempty" mapstructure:"min_supported"`
	Latest       string `json:"latest,omitempty" mapstructure:"latest"`
}

// Empty reports whether no constraint is configured.
func (c VersionConstraints) Empty() bool {
	return c.MinSupported == "" && c.Latest == ""
}

// VersionCheck is the outcome of a widget version check. CanContinue is
// false only for unsupported builds.
type VersionCheck struct {
	Status      VersionStatus `json:"status"`
	CanContinue bool          `json:"canContinue"`
	Message     string        `json:"message,omitempty"`
	Latest      string        `json:"latest,omitempty"`
}

// CheckWidgetVersion compares a widget's reported version against the
// constraints. A missing version or empty constraints pass as ok so older
// widgets that predate version reporting keep working.
func CheckWidgetVersion(version string, constraints VersionConstraints) VersionCheck {
	ok := VersionCheck{Status: VersionOK, CanContinue: true, Latest: constraints.Latest}
	if version == "" || constraints.Empty() {
		return ok
	}
	current, err := parseVersion(version)
	if err != nil {
		return ok
	}

	if constraints.MinSupported != "" {
		if min, err := parseVersion(constraints.MinSupported); err == nil && current.less(min) {
			return VersionCheck{
				Status:      VersionUnsupported,
				CanContinue: false,
				Message:     fmt.Sprintf("widget %s is no longer supported, minimum is %s", version, constraints.MinSupported),
				Latest:      constraints.Latest,
			}
		}
	}
	if constraints.Latest != "" {
		if latest, err := parseVersion(constraints.Latest); err == nil && current.less(latest) {
			// A widget a full major behind is deprecated; minor or patch
			// behind is merely outdated.
			if current.major < latest.major {
				return VersionCheck{
					Status:      VersionDeprecated,
					CanContinue: true,
					Message:     fmt.Sprintf("widget %s is deprecated, please upgrade to %s or newer", version, constraints.Latest),
					Latest:      constraints.Latest,
				}
			}
			return VersionCheck{
				Status:      VersionOutdated,
				CanContinue: true,
				Message:     fmt.Sprintf("widget %s is behind the latest release %s", version, constraints.Latest),
				Latest:      constraints.Latest,
			}
		}
	}
	return ok
}

type semver struct {
	major, minor, patch int
}

func (v semver) less(other semver) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	if v.minor != other.minor {
		return v.minor < other.minor
	}
	return v.patch < other.patch
}

// parseVersion accepts "1.2.3" with an optional "v" prefix; missing minor
// or patch components default to zero. Pre-release suffixes are ignored.
func parseVersion(s string) (semver, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if idx := strings.IndexAny(s, "-+"); idx >= 0 {
		s = s[:idx]
	}
	parts := strings.SplitN(s, ".", 3)
	var v semver
	nums := [3]*int{&v.major, &v.minor, &v.patch}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return semver{}, fmt.Errorf("invalid version %q", s)
		}
		*nums[i] = n
	}
	return v, nil
}
