package swpll

import (
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
)

// Set at build time via `-ldflags "-X 'github.com/doismellburning/swpll/src.SWPLL_VERSION=X'"`
var SWPLL_VERSION string

type buildVersion struct {
	Version  string
	Revision string // -DIRTY appended for a modified tree
	Time     string
	Go       string
}

// readBuildVersion prefers SWPLL_VERSION, then a tagged module version.
// bi may be nil, as when the binary was built without module support.
func readBuildVersion(bi *debug.BuildInfo) buildVersion {
	var v = buildVersion{
		Version:  SWPLL_VERSION,
		Revision: "UNKNOWN",
		Time:     "UNKNOWN",
		Go:       "UNKNOWN",
	}

	var modified = "INVALID"

	if bi != nil {
		v.Go = bi.GoVersion

		if v.Version == "" && bi.Main.Version != "(devel)" {
			v.Version = bi.Main.Version
		}

		for _, bs := range bi.Settings {
			switch bs.Key {
			case "vcs.revision":
				v.Revision = bs.Value
			case "vcs.time":
				v.Time = bs.Value
			case "vcs.modified":
				modified = bs.Value
			}
		}
	}

	if v.Version == "" {
		v.Version = "!UNKNOWN!"
	}

	var dirty, err = strconv.ParseBool(modified)

	switch {
	case err != nil:
		v.Revision += "-UNKNOWNDIRTY"
	case dirty:
		v.Revision += "-DIRTY"
	}

	return v
}

func (v buildVersion) line(tool string) string {
	return fmt.Sprintf("%s - Version %s (revision %s, built at %s with %s)", tool, v.Version, v.Revision, v.Time, v.Go)
}

// writeVersion prints the --version line for tool.
func writeVersion(w io.Writer, tool string) {
	var bi, _ = debug.ReadBuildInfo()

	fmt.Fprintln(w, readBuildVersion(bi).line(tool))
}
