// Package version carries build metadata for the corpus binary, injected with
//
//	go build -ldflags="-X github.com/54b3r/corpus-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/corpus-go/internal/version.Commit=abc1234"
//
// Unset values fall back to placeholders.
package version

import "fmt"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA.
	Commit = "unknown"
	// BuildDate is the RFC3339 UTC build date.
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("corpus %s (commit %s, built %s)", Version, Commit, BuildDate)
}
