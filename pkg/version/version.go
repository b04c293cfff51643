// Package version reports build information for the skillreg binary
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/jingkaihe/skillreg/pkg/types/skills"
)

// Set with -ldflags at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info represents version information
type Info struct {
	Version       string `json:"version"`
	GitCommit     string `json:"gitCommit"`
	BuildTime     string `json:"buildTime"`
	GoVersion     string `json:"goVersion"`
	SkillFormat   string `json:"skillFormat"`
	LegacyFormats string `json:"legacyFormats"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:       Version,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		GoVersion:     runtime.Version(),
		SkillFormat:   skills.FormatVersionCurrent,
		LegacyFormats: skills.FormatVersionLegacy,
	}
}

// IsRelease reports whether Version is a semantic version rather than a
// development build
func (i Info) IsRelease() bool {
	v := i.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v) && semver.Prerelease(v) == ""
}

// String returns the string representation of version info
func (i Info) String() string {
	return fmt.Sprintf("Version: %s, GitCommit: %s, BuildTime: %s, GoVersion: %s, SkillFormat: %s",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.SkillFormat)
}

// JSON returns the JSON representation of version info
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
