// Package version holds the build identity of the running agent. The
// running version is what staged executables are compared against.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at link time, e.g.
//
//	-ldflags "-X github.com/rennerdo30/warden-agent/internal/version.Version=1.3.0
//	          -X github.com/rennerdo30/warden-agent/internal/version.Release=2"
var (
	Version   = "dev"
	Release   = "0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fillFromVCS(info.Settings)
	}
}

// fillFromVCS uses the toolchain's VCS stamp for fields the linker left
// unset.
func fillFromVCS(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if GitCommit == "unknown" && s.Value != "" {
				GitCommit = s.Value
				if len(GitCommit) > 12 {
					GitCommit = GitCommit[:12]
				}
			}
		case "vcs.time":
			if BuildTime == "unknown" && s.Value != "" {
				BuildTime = s.Value
			}
		}
	}
}

// Short returns the bare version.
func Short() string {
	return Version
}

// Tagged returns the version joined with its release number, e.g. "1.3.0-2".
func Tagged() string {
	return Version + "-" + Release
}

// String describes the build for humans.
func String() string {
	return fmt.Sprintf("Warden Agent %s (%s) built %s, %s %s/%s",
		Tagged(), GitCommit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Info is the JSON shape served by the status endpoint.
type Info struct {
	Version   string `json:"version"`
	Release   string `json:"release"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build identity.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Release:   Release,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
