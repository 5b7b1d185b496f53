// Package version carries build metadata injected at link time.
package version

var (
	// Version is the semantic version or git describe output
	Version = "dev"

	// GitCommit is the short commit hash
	GitCommit = "unknown"
)
