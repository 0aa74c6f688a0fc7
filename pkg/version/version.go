// Package version reports the build identity of the cardinality binary.
package version

import "runtime/debug"

const unknown = "<unknown>"

// Version, Commit and Date are set at link time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

// Info is the build identity of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build identity, filling fields that were not set at link
// time from the module build info where possible.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion

	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}

	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == unknown {
				info.Commit = setting.Value
			}
		case "vcs.time":
			if info.Date == unknown {
				info.Date = setting.Value
			}
		}
	}

	return info
}
