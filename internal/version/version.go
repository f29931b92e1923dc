package version

import "runtime"

// Overridden at build time via -ldflags.
var (
	version   = "v0.1.0-dev"
	gitCommit = "unknown"
)

func GetVersion() string {
	return version
}

// BuildInfo is what the version command and the install banner print.
type BuildInfo struct {
	Version   string `json:"version,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

func Get() BuildInfo {
	return BuildInfo{
		Version:   GetVersion(),
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
	}
}
