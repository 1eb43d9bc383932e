// Package version exposes build-time version information.
package version

import "fmt"

// Set via -ldflags at build time.
//
//nolint:gochecknoglobals // Populated by the linker
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("txgate %s (commit %s, built %s)", Version, Commit, Date)
}
