// Package buildinfo provides build-time version information.
//
// Values are normally injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/relaymesh/fabric/internal/infra/buildinfo.Version=v1.0.0"
//
// A binary fetched with `go install .../cmd/fabricd@vX.Y.Z` never runs
// that ldflags step, so Version/Commit fall back to the module and VCS
// stamping the Go toolchain embeds automatically since Go 1.18 —
// without it, every such install would report the same "dev
// (unknown)" regardless of which release was actually installed.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Build-time variables (set via ldflags, or derived in init from the
// binary's embedded build info when ldflags never ran).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"

	// GoVersion is the Go version used to build.
	GoVersion = "unknown"
)

// readBuildInfo is a var so tests can substitute a fixed BuildInfo
// instead of depending on how the test binary itself was built.
var readBuildInfo = debug.ReadBuildInfo

func init() {
	Version, Commit = deriveFromModule(Version, Commit)
	if GoVersion == "unknown" {
		if info, ok := readBuildInfo(); ok {
			GoVersion = info.GoVersion
		}
	}
}

// deriveFromModule fills in version/commit from the running binary's
// own build info when ldflags left them at their zero defaults.
func deriveFromModule(version, commit string) (string, string) {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return version, commit
	}

	if version == "dev" {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			version = v
		}
	}

	if commit == "unknown" {
		var revision string
		var modified bool
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = strings.TrimSpace(s.Value)
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
		if revision != "" {
			if len(revision) > 12 {
				revision = revision[:12]
			}
			if modified {
				revision += "-dirty"
			}
			commit = revision
		}
	}

	return version, commit
}

// Info contains build information, as returned by Get. The "system/info"
// RPC method reports service.Info instead, and `fabricd --version` /
// `fabrictl --version` print String().
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
	}
}

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built at " + BuildTime
}
