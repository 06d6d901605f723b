// Package version provides build-time version information.
package version

import (
	"fmt"
	"runtime/debug"
)

// version and commit are set at build time via -ldflags:
//
//	-X github.com/jenozu/orchestrator/internal/version.version=v1.2.3
//	-X github.com/jenozu/orchestrator/internal/version.commit=abc1234
var (
	version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var
	commit  = ""    //nolint:gochecknoglobals // ldflags requires package-level var
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo //nolint:gochecknoglobals // test seam

// String returns the current version. A "dev" build installed with
// `go install module@version` reports the module version instead.
func String() string {
	if version != "dev" {
		return version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

// Commit returns the VCS revision, shortened to 12 characters, or "".
func Commit() string {
	rev := commit
	if rev == "" {
		if info, ok := readBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					rev = s.Value
				}
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return rev
}

// Full returns "<version> (<commit>)", or just the version without a commit.
func Full() string {
	if c := Commit(); c != "" {
		return fmt.Sprintf("%s (%s)", String(), c)
	}
	return String()
}
