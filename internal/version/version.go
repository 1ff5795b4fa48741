// Package version holds the build version of dtmigrate.
package version

// Version is the semantic version, overridden at build time with
// -ldflags "-X github.com/hashicorp-forge/dtmigrate/internal/version.Version=...".
var Version = "0.1.0"

// GitCommit is the commit the binary was built from, set at build time.
var GitCommit = ""

// String returns the version and, when known, the commit.
func String() string {
	if GitCommit == "" {
		return Version
	}
	return Version + " (" + GitCommit + ")"
}
