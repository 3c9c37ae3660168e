// Package version reports build metadata, mirroring the teacher's
// version.go but drawing entirely from runtime/debug.BuildInfo rather than
// an ldflags-injected string, since this module has no release process of
// its own yet.
package version

import (
	"fmt"
	"runtime/debug"
)

// Info is a snapshot of this binary's build metadata.
type Info struct {
	Module   string
	Revision string
	Dirty    bool
	Time     string
}

// Read extracts Info from the running binary's embedded build info. It
// returns ok=false if the binary wasn't built with module information
// (e.g. `go run` against bare files outside a module).
func Read() (Info, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}, false
	}

	info := Info{
		Module:   bi.Main.Path,
		Revision: "UNKNOWN",
		Time:     "UNKNOWN",
	}

	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			info.Revision = setting.Value
		case "vcs.time":
			info.Time = setting.Value
		case "vcs.modified":
			info.Dirty = setting.Value == "true"
		}
	}

	return info, true
}

// String renders Info the way a CLI's --version flag would print it.
func (i Info) String() string {
	revision := i.Revision
	if i.Dirty {
		revision += "-dirty"
	}
	return fmt.Sprintf("%s (revision %s, built %s)", i.Module, revision, i.Time)
}
