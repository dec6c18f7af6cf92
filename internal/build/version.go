package build

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 0

	// appPreRelease is appended to the version when non-empty.
	appPreRelease = "beta"
)

var (
	// Commit is set at link time with -ldflags "-X ...build.Commit=...".
	Commit string

	// CommitHash is the VCS revision embedded by the Go toolchain.
	CommitHash string

	// GoVersion is the toolchain the binary was built with.
	GoVersion string

	// RawTags is the comma separated list of build tags, set at link
	// time.
	RawTags string
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			CommitHash = setting.Value
		}
	}
}

// Version returns the semantic version of the application.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		v += "-" + appPreRelease
	}

	return v
}

// Tags returns the build tags the binary was built with.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}
