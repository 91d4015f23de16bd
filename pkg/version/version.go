// Package version carries build-time metadata, injected via -ldflags at
// build time. The zero-value defaults below are what "go run" or an
// unstamped build reports.
package version

import "fmt"

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the git commit this build was built from.
	Commit = "unknown"
	// BuildDate is the RFC3339 timestamp this build was produced at.
	BuildDate = "unknown"
	// Tag is an optional release tag; empty for untagged builds.
	Tag = ""
)

// Info is the structured build-metadata bundle reported by the version
// subcommand and embedded into the build_info metric / CLI user agent.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	Tag       string `json:"tag,omitempty"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Tag:       Tag,
	}
}

// UserAgent returns the string main-runner identifies itself with on
// outbound backend RPCs.
func UserAgent() string {
	return fmt.Sprintf("main-runner/%s (%s)", Version, Commit)
}
