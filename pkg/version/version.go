// Package version holds build information set with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo returns a one-line build description.
func GetVersionInfo() string {
	return fmt.Sprintf("voice-agent version %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}
