package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.Contains(t, info.GoVersion, "go")
	assert.Equal(t, "2", info.SkillFormat)
	assert.Equal(t, "1", info.LegacyFormats)
}

func TestInfo_String(t *testing.T) {
	info := Info{
		Version:     "1.0.0",
		GitCommit:   "abc123",
		BuildTime:   "2025-08-25",
		GoVersion:   "go1.25.1",
		SkillFormat: "2",
	}

	assert.Equal(t, "Version: 1.0.0, GitCommit: abc123, BuildTime: 2025-08-25, GoVersion: go1.25.1, SkillFormat: 2", info.String())
}

func TestInfo_JSON(t *testing.T) {
	info := Info{Version: "1.0.0", GitCommit: "abc123", SkillFormat: "2"}

	out, err := info.JSON()
	require.NoError(t, err)

	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, info, decoded)
	assert.Contains(t, out, `"skillFormat": "2"`)
}

func TestInfo_IsRelease(t *testing.T) {
	tests := []struct {
		version  string
		expected bool
	}{
		{"1.2.3", true},
		{"v0.4.0", true},
		{"1.2.3-rc.1", false},
		{"dev", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.expected, Info{Version: tt.version}.IsRelease())
		})
	}
}
