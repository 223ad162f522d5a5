package version

import "fmt"

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}

func Short() string {
	return Version
}
