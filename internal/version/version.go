// Package version holds build information set through -ldflags
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Full returns the version line printed by --version
func Full() string {
	return fmt.Sprintf("radio-recorder %s, commit %s, built at %s", Version, Commit, Date)
}
