// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags at build time.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Build is the resolved build stamp.
type Build struct {
	Version  string
	Commit   string
	Time     string
	Modified bool
}

// Current merges the ldflags values with the toolchain's VCS stamp.
// ldflags values win where both are present.
func Current() Build {
	build := Build{Version: Version, Commit: GitCommit, Time: BuildTime}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return build
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if build.Commit == "" {
				build.Commit = setting.Value
			}
		case "vcs.time":
			if build.Time == "" {
				build.Time = setting.Value
			}
		case "vcs.modified":
			build.Modified = setting.Value == "true"
		}
	}
	return build
}

// String formats the build for --version, e.g.
// "0.1.0-dev (abc1234-dirty, 2026-02-10T12:00:00Z)".
func (build Build) String() string {
	commit := build.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		commit = "unknown"
	}
	if build.Modified {
		commit += "-dirty"
	}
	when := build.Time
	if when == "" {
		when = "unknown"
	}
	return fmt.Sprintf("%s (%s, %s)", build.Version, commit, when)
}

// Full adds the Go version and platform to String.
func (build Build) Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", build, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
