// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package build reports how the running binary was built.
package build

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// These variables are set with the linker -X flag for release builds.
	tag     = "unknown"
	utcTime string
	rev     string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// Info describes a build.
type Info struct {
	GoVersion string
	Tag       string
	Time      string
	Revision  string
	Platform  string
	// Dependencies lists the module dependencies as "path@version".
	Dependencies []string
}

// GetInfo returns the build information of the running binary. Values not
// set by the linker are taken from the module build info when available.
func GetInfo() Info {
	info := Info{
		GoVersion: runtime.Version(),
		Tag:       tag,
		Time:      utcTime,
		Revision:  rev,
		Platform:  platform,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Tag == "unknown" && bi.Main.Version != "" {
		info.Tag = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Revision == "" {
				info.Revision = s.Value
			}
		case "vcs.time":
			if info.Time == "" {
				info.Time = s.Value
			}
		}
	}
	for _, dep := range bi.Deps {
		info.Dependencies = append(info.Dependencies, dep.Path+"@"+dep.Version)
	}
	return info
}

// Short returns a one-line summary of the build.
func (b Info) Short() string {
	return fmt.Sprintf("viewflow %s (%s, built %s, %s)", b.Tag, b.Platform, b.Time, b.GoVersion)
}

// TestingOverrideTag overrides the build tag until the returned function
// is called.
func TestingOverrideTag(t string) func() {
	prev := tag
	tag = t
	return func() { tag = prev }
}
