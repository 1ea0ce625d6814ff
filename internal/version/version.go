// Package version exposes build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags "-X github.com/HerbHall/linkbeat/internal/version.Version=..."
var (
	Version = "0.1.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns just the version string.
func Short() string {
	return Version
}

// Info returns a human-readable version line for the version subcommand.
func Info() string {
	return fmt.Sprintf("linkbeat %s (commit %s, built %s)", Version, Commit, Date)
}
