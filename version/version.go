package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version can be set at build time:
// go build -ldflags "-X github.com/vsariola/shifter/version.Version=$(git describe --dirty)"
var Version string

// Hash is the short VCS revision the binary was built from, with a -dirty
// suffix for modified trees. Empty when the build has no VCS info.
var Hash = func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision != "" && modified {
		revision += "-dirty"
	}
	return revision
}()

// VersionOrHash is Version if set, Hash otherwise.
var VersionOrHash = func() string {
	if Version != "" {
		return Version
	}
	return Hash
}()

// Banner is the line printed by the -v flag of the commands.
func Banner(command string) string {
	v := VersionOrHash
	if v == "" {
		v = "(devel)"
	}
	return fmt.Sprintf("%s %s %s/%s %s", command, v, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
