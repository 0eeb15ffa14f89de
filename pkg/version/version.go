// Package version reports build information for fmindex.
//
// Release builds stamp Version, Commit and Date through -ldflags -X. Other
// builds fall back to the VCS stamp and module version the go tool embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unset = "unknown"

var (
	Version = "dev"
	Commit  = unset
	// Date is RFC3339.
	Date = unset
	// GoVersion is the toolchain that built the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is the JSON form of `fmindex version`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Modified  bool   `json:"modified,omitempty"`
}

// shortCommit is the abbreviated hash length used for VCS revisions.
const shortCommit = 7

// applyStamp fills fields that ldflags left unset from the embedded build
// settings.
func (b *BuildInfo) applyStamp(bi *debug.BuildInfo) {
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == unset && len(s.Value) >= shortCommit:
			b.Commit = s.Value[:shortCommit]
		case s.Key == "vcs.time" && b.Date == unset:
			b.Date = s.Value
		case s.Key == "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	if v := bi.Main.Version; b.Version == "dev" && v != "" && v != "(devel)" {
		b.Version = v
	}
}

func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.applyStamp(bi)
	}
	return info
}

// String is the one-line form, e.g.
// "fmindex v0.3.0 (commit: 1a2b3c4, built: ..., go: go1.25.5, linux/amd64)".
func String() string {
	i := GetInfo()
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("fmindex %s (commit: %s, built: %s, go: %s, %s/%s)",
		i.Version, commit, i.Date, i.GoVersion, i.OS, i.Arch)
}

func Short() string {
	return GetInfo().Version
}
