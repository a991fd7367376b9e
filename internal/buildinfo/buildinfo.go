// Package buildinfo carries version metadata set with -ldflags -X. Fields
// left unset fall back to the module and VCS data embedded by the go tool.
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

var readBuildInfo = debug.ReadBuildInfo

// Info reports version, commit, build time and the Go version.
func Info() map[string]string {
	out := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
	bi, ok := readBuildInfo()
	if !ok {
		return out
	}
	out["goVersion"] = bi.GoVersion
	if out["version"] == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out["version"] = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out["commit"] == "" {
				out["commit"] = s.Value
			}
		case "vcs.time":
			if out["builtAt"] == "" {
				out["builtAt"] = s.Value
			}
		}
	}
	return out
}
