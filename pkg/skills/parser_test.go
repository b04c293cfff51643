package skills

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

const markdownSkill = `---
id: git-commit
version: 1.2.0
metadata:
  name:
    en: Git Commit
    zh-CN: 提交代码
  description:
    en: Write a conventional commit message
    zh-CN: 编写规范的提交信息
  category: git
  tags: [git, vcs]
  priority: 8
triggers:
  - /commit
  - commit changes
config:
  contextMode: fork
  timeoutSeconds: 30
  hooks:
    - type: before_tool_call
      command: git status
  outputs:
    - name: message
      type: text
  custom:
    style:
      emoji: false
dependencies:
  - git-status
---

# Commit

Summarise the staged diff.
`

func TestParseMarkdown(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "skills", "git-commit.md")
	writeFile(t, path, markdownSkill)

	result := NewParser().ParseFile(context.Background(), path)
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, skilltypes.FormatVersionCurrent, result.DetectedFormatVersion)

	skill := result.Skill
	assert.Equal(t, "git-commit", skill.ID)
	assert.Equal(t, "1.2.0", skill.Version)
	assert.Equal(t, "提交代码", skill.Metadata.Name.ZH)
	assert.Equal(t, skilltypes.CategoryGit, skill.Metadata.Category)
	assert.Equal(t, []string{"git", "vcs"}, skill.Metadata.Tags)
	assert.Equal(t, 8, skill.Metadata.Priority)
	assert.Equal(t, []string{"/commit", "commit changes"}, skill.Triggers)
	assert.Equal(t, []string{"git-status"}, skill.Dependencies)
	assert.True(t, strings.HasPrefix(skill.Template, "# Commit"))
	assert.Contains(t, skill.Template, "Summarise the staged diff.")

	require.NotNil(t, skill.Config)
	assert.Equal(t, skilltypes.ContextModeFork, skill.Config.ContextMode)
	assert.Equal(t, 30, skill.Config.TimeoutSeconds)
	require.Len(t, skill.Config.Hooks, 1)
	assert.Equal(t, skilltypes.HookTypeBeforeToolCall, skill.Config.Hooks[0].Type)
	assert.Equal(t, map[string]any{"emoji": false}, skill.Config.Custom["style"])
}

func TestParseJSONAndYAML(t *testing.T) {
	jsonDoc := `{
  "formatVersion": "2",
  "id": "code-review",
  "version": "v2.0.0",
  "metadata": {
    "name": {"en": "Code Review", "zh-CN": "代码审查"},
    "description": {"en": "Review a diff", "zh-CN": "审查代码"},
    "category": "review"
  },
  "triggers": ["/review"],
  "template": "Review the diff."
}`
	yamlDoc := `id: deploy
version: 0.1.0
metadata:
  name: {en: Deploy, zh-CN: 部署}
  description: {en: Ship it, zh-CN: 发布}
  category: devops
triggers: [/deploy]
template: Run the pipeline.
`

	parser := NewParser()

	result := parser.ParseBytes([]byte(jsonDoc), "skills/code-review.json")
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "code-review", result.Skill.ID)
	assert.Equal(t, "Review the diff.", result.Skill.Template)

	result = parser.ParseBytes([]byte(yamlDoc), "skills/deploy.yml")
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, skilltypes.CategoryDevOps, result.Skill.Metadata.Category)
	assert.Equal(t, "部署", result.Skill.Metadata.Name.ZH)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		content     string
		wantVersion string
		wantMessage string
	}{
		{
			name:        "legacy markdown",
			path:        "skills/old.md",
			content:     "---\nname: Old Skill\ndescription: legacy\n---\nDo it.\n",
			wantVersion: skilltypes.FormatVersionLegacy,
			wantMessage: "requires migration",
		},
		{
			name:        "legacy declared",
			path:        "skills/old.json",
			content:     `{"formatVersion": 1, "name": "old"}`,
			wantVersion: skilltypes.FormatVersionLegacy,
			wantMessage: "requires migration",
		},
		{
			name:        "unknown version",
			path:        "skills/future.json",
			content:     `{"formatVersion": "3", "id": "future"}`,
			wantVersion: "3",
			wantMessage: "unsupported skill format version",
		},
		{
			name:        "malformed json",
			path:        "skills/broken.json",
			content:     `{"id": `,
			wantMessage: "invalid JSON",
		},
		{
			name:        "missing front-matter",
			path:        "skills/plain.md",
			content:     "# just markdown\n",
			wantMessage: "missing front-matter",
		},
		{
			name:        "unsupported extension",
			path:        "skills/skill.toml",
			content:     "id = 'x'",
			wantMessage: "unsupported skill file extension",
		},
		{
			name:        "validation errors are collected",
			path:        "skills/bad.yaml",
			content:     "id: Bad_ID\nversion: '1.0'\nmetadata:\n  name: {en: Bad}\n  description: {en: Bad, zh-CN: 坏}\n  category: misc\n  priority: 11\ntriggers: []\ndependencies: [Bad_ID]\n",
			wantVersion: skilltypes.FormatVersionCurrent,
			wantMessage: "must be kebab-case",
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parser.ParseBytes([]byte(tt.content), tt.path)
			assert.False(t, result.Success)
			assert.Nil(t, result.Skill)
			require.NotNil(t, result.Error)
			assert.Equal(t, tt.wantVersion, result.DetectedFormatVersion)
			assert.Contains(t, result.Error.Error(), tt.wantMessage)
			assert.Contains(t, result.Error.Error(), tt.path)
		})
	}
}

func TestParseFileMissingAndOversized(t *testing.T) {
	tmpDir := t.TempDir()

	result := NewParser().ParseFile(context.Background(), filepath.Join(tmpDir, "nope.md"))
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)

	path := filepath.Join(tmpDir, "skills", "big.md")
	writeFile(t, path, markdownSkill)
	result = NewParser(WithMaxFileSize(16)).ParseFile(context.Background(), path)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error.Message, "limit is 16")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	skill := &skilltypes.Skill{
		ID:      "self",
		Version: "1.0.0",
		Metadata: skilltypes.Metadata{
			Name:        skilltypes.LocalizedText{EN: "Self"},
			Description: skilltypes.LocalizedText{EN: "d", ZH: "d"},
			Category:    skilltypes.CategoryCustom,
			Difficulty:  "expert",
		},
		Triggers:     []string{"/self", "  "},
		Dependencies: []string{"self"},
		Config: &skilltypes.Config{
			ContextMode: "detached",
			Hooks:       []skilltypes.Hook{{Type: "on_boot"}},
			Outputs:     []skilltypes.Output{{Name: "out", Type: "binary"}},
		},
	}

	err := Validate(skill)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"metadata.name.zh-CN is required",
		"difficulty 'expert'",
		"triggers[1] is empty",
		"cannot depend on itself",
		"contextMode 'detached'",
		"hooks[0].type 'on_boot'",
		"hooks[0].command is required",
		"outputs[0].type 'binary'",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParseErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &ParseError{Path: "a.md", Message: "bad", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "a.md: bad", err.Error())
}

func TestIsValidVersion(t *testing.T) {
	for v, want := range map[string]bool{
		"1.0.0":        true,
		"v2.3.4":       true,
		"1.0.0-beta.1": true,
		"1.0":          false,
		"v1":           false,
		"latest":       false,
		"":             false,
	} {
		assert.Equal(t, want, IsValidVersion(v), v)
	}
}
