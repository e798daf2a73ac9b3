// Package version holds the daemon's build-time version stamp, set via
// -ldflags at release build time the same way the rest of the ambient
// stack is wired: a single authoritative string each command reports.
package version

import "fmt"

// Version, GitCommit, and BuildDate default to "dev"/"unknown" and are
// overridden at build time with:
//
//	go build -ldflags "-X github.com/teapotnet/teapotnet/pkg/version.Version=1.2.3 ..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the full version stamp reported by "teapotnetd --version"
// and "teapotnetctl --version".
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
