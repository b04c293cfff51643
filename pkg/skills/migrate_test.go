package skills

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

func TestMigrateLegacyMarkdown(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "skills", "tdd.md")
	writeFile(t, path, `---
name: Test Driven Development
name_zh: 测试驱动开发
description: Write the failing test first
category: tests
tags: [quality]
priority: 7
dependencies: [git-status]
---

Red, green, refactor.
`)

	result := NewMigrator(nil).MigrateFile(context.Background(), path)
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, skilltypes.FormatVersionLegacy, result.FromVersion)

	skill := result.Skill
	assert.Equal(t, "test-driven-development", skill.ID)
	assert.Equal(t, "1.0.0", skill.Version)
	assert.Equal(t, "Test Driven Development", skill.Metadata.Name.EN)
	assert.Equal(t, "测试驱动开发", skill.Metadata.Name.ZH)
	assert.Equal(t, "Write the failing test first", skill.Metadata.Description.ZH)
	assert.Equal(t, skilltypes.CategoryTesting, skill.Metadata.Category)
	assert.Equal(t, 7, skill.Metadata.Priority)
	assert.Equal(t, []string{"/test-driven-development"}, skill.Triggers)
	assert.Equal(t, []string{"git-status"}, skill.Dependencies)
	assert.Equal(t, "Red, green, refactor.\n", skill.Template)
}

func TestMigrateLegacyJSON(t *testing.T) {
	doc := `{"name": "Deploy App", "description": "Ship", "version": "2.1.0", "category": "Marketing",
	"triggers": ["/ship"], "prompt": "Deploy now."}`

	result := NewMigrator(nil).MigrateBytes([]byte(doc), "deploy.json")
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "deploy-app", result.Skill.ID)
	assert.Equal(t, "2.1.0", result.Skill.Version)
	assert.Equal(t, skilltypes.CategoryCustom, result.Skill.Metadata.Category)
	assert.Equal(t, []string{"/ship"}, result.Skill.Triggers)
	assert.Equal(t, "Deploy now.", result.Skill.Template)
}

func TestMigrateCurrentFormatPassesThrough(t *testing.T) {
	result := NewMigrator(NewParser()).MigrateBytes([]byte(markdownSkill), "skills/git-commit.md")
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, skilltypes.FormatVersionCurrent, result.FromVersion)
	assert.Equal(t, "git-commit", result.Skill.ID)
}

func TestMigrateFailures(t *testing.T) {
	migrator := NewMigrator(nil)

	result := migrator.MigrateBytes([]byte(`{"description": "no name"}`), "x.json")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error.Error(), "migrated skill is invalid")

	result = migrator.MigrateBytes([]byte(`{"formatVersion": "9"}`), "x.json")
	assert.False(t, result.Success)
	assert.Equal(t, "9", result.FromVersion)

	result = migrator.MigrateFile(context.Background(), filepath.Join(t.TempDir(), "missing.md"))
	assert.False(t, result.Success)
	assert.Error(t, result.Error)
}

func TestKebabCase(t *testing.T) {
	for in, want := range map[string]string{
		"Git Commit":         "git-commit",
		"  API -- Review!! ": "api-review",
		"v2 Release_Notes":   "v2-release-notes",
		"代码":                 "",
	} {
		assert.Equal(t, want, kebabCase(in), in)
	}
}
