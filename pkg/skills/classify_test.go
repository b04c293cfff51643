package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSkillFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/repo/tools/SKILL.md", true},
		{"/repo/tools/skill.yaml", true},
		{"/repo/tools/skill.yml", true},
		{"/repo/tools/skill.json", true},
		{"/repo/.skillreg/skills/commit.md", true},
		{"/repo/.skillreg/skills/nested/deploy.json", true},
		{"/repo/.skillreg/skills/README.md", false},
		{"/repo/skills/CHANGELOG.md", false},
		{"/repo/skills/notes.txt", false},
		{"/repo/docs/guide.md", false},
		{"/repo/myskills/guide.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSkillFile(tt.path))
		})
	}
}

func TestIgnoreMatcher(t *testing.T) {
	m, err := NewIgnoreMatcher("*.draft.md", "/archive/**")
	require.NoError(t, err)

	tests := []struct {
		rel  string
		want bool
	}{
		{"commit.md", false},
		{"nested/commit.md", false},
		{".git/HEAD", true},
		{"a/.git", true},
		{"node_modules/x/skill.md", true},
		{"build/out/skill.md", true},
		{"vendor/skill.md", true},
		{".hidden.md", true},
		{"team/.cache/skill.md", true},
		{"commit.md~", true},
		{"commit.md.swp", true},
		{"commit.md.bak", true},
		{"x/idea.draft.md", true},
		{"archive/old/skill.md", true},
		{"team/archive/skill.md", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.rel))
		})
	}

	assert.False(t, m.MatchUnder("/home/u/.skillreg/skills", "/home/u/.skillreg/skills/commit.md"),
		"hidden segments above the root do not count")
	assert.True(t, m.MatchUnder("/home/u/.skillreg/skills", "/home/u/.skillreg/skills/.tmp/commit.md"))
	assert.Contains(t, m.Patterns(), "**/*.draft.md")
}
