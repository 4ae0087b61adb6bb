// Package version provides the release version of the popctl agent.
package version

import "strings"

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=...".
var Version = "dev"

// String returns the version with exactly one 'v' prefix. Unreleased
// builds report "dev".
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" || v == "dev" {
		return "dev"
	}
	return "v" + strings.TrimPrefix(v, "v")
}
