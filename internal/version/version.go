// Package version carries build metadata injected with -ldflags "-X".
package version

import "fmt"

var (
	// Version of the fx-notifier binary.
	Version = "dev"
	// Commit the binary was built from.
	Commit = "unknown"
	// BuildDate in RFC 3339.
	BuildDate = "unknown"
)

// String renders the build metadata one field per line.
func String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}
