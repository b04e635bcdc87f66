// Package version carries build identification, overridden at link time
// via -ldflags "-X".
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the one-line build identifier logged at startup and
// stored with each run.
func String() string {
	return fmt.Sprintf("physio-report %s (%s, built %s)", Version, GitSHA, BuildTime)
}
