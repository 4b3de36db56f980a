// Package version exposes build metadata injected via -ldflags.
package version

import "fmt"

// Build-time variables set by ldflags:
//
//	-X github.com/MeKo-Tech/epipolar/internal/version.Version=v1.2.3
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("epipolar version %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
