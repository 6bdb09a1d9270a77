// Package version carries build metadata set through -ldflags.
package version

import "fmt"

// Build-time variables set by ldflags, e.g.
// -X github.com/MeKo-Tech/platewatch/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String renders the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("platewatch %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
