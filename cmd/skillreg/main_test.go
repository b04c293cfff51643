package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/registry"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

const commitSkill = `id: git-commit
version: 1.0.0
metadata:
  name: {en: Git Commit, zh-CN: 提交}
  description: {en: Write a commit message, zh-CN: 写提交信息}
  category: git
  priority: 8
triggers: [/commit]
template: Summarise the staged diff.
`

const reviewSkill = `id: code-review
version: 1.0.0
metadata:
  name: {en: Code Review, zh-CN: 代码审查}
  description: {en: Review a change, zh-CN: 审查变更}
  category: review
triggers: [/review, /commit]
template: Review the diff.
dependencies: [git-commit, lint]
`

func writeSkillFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setViper(t *testing.T, key string, value any) {
	t.Helper()
	prev := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, prev) })
}

func TestListConfigFilter(t *testing.T) {
	config := NewListConfig()
	filter, err := config.Filter()
	require.NoError(t, err)
	require.NotNil(t, filter.Enabled)
	assert.True(t, *filter.Enabled)
	assert.Equal(t, registry.SortByName, filter.SortBy)

	config.All = true
	config.Desc = true
	config.Category = "git"
	filter, err = config.Filter()
	require.NoError(t, err)
	assert.Nil(t, filter.Enabled)
	assert.Equal(t, registry.SortDesc, filter.SortOrder)
	assert.Equal(t, skilltypes.CategoryGit, filter.Category)

	tests := []struct {
		name   string
		mutate func(*ListConfig)
		errMsg string
	}{
		{"unknown category", func(c *ListConfig) { c.Category = "music" }, "unknown category"},
		{"unknown source", func(c *ListConfig) { c.Source = "cloud" }, "unknown source"},
		{"unknown sort", func(c *ListConfig) { c.Sort = "size" }, "unknown sort field"},
		{"negative limit", func(c *ListConfig) { c.Limit = -1 }, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewListConfig()
			tt.mutate(c)
			_, err := c.Filter()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGetListConfigFromFlags(t *testing.T) {
	cmd := listCmd
	require.NoError(t, cmd.Flags().Set("category", "review"))
	require.NoError(t, cmd.Flags().Set("tag", "go,ci"))
	require.NoError(t, cmd.Flags().Set("limit", "3"))
	t.Cleanup(func() {
		cmd.Flags().Set("category", "")
		cmd.Flags().Set("limit", "0")
	})

	config := getListConfigFromFlags(cmd)
	assert.Equal(t, "review", config.Category)
	assert.Equal(t, []string{"go", "ci"}, config.Tags)
	assert.Equal(t, 3, config.Limit)
	assert.Equal(t, "name", config.Sort)
}

func TestLoadManagerFromConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skills")
	writeSkillFile(t, filepath.Join(dir, "commit.yaml"), commitSkill)
	writeSkillFile(t, filepath.Join(dir, "review.yaml"), reviewSkill)
	setViper(t, "skill_dirs", []string{dir})

	m, err := loadManager(context.Background())
	require.NoError(t, err)
	defer m.Close()

	reg := m.Registry()
	assert.Equal(t, 2, reg.Count())

	var out bytes.Buffer
	require.NoError(t, printEntries(&out, reg.All()))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.True(t, strings.HasPrefix(lines[1], "code-review"))
	assert.Contains(t, lines[2], "/commit")

	out.Reset()
	printResolution(&out, reg.ResolveDependencies())
	assert.Contains(t, out.String(), "1. git-commit")
	assert.Contains(t, out.String(), "code-review requires lint")

	out.Reset()
	printConflicts(&out, reg.GetAllConflicts())
	assert.Contains(t, out.String(), "/commit")
	assert.Contains(t, out.String(), "code-review, git-commit")

	out.Reset()
	require.NoError(t, printStats(&out, reg.GetStats()))
	assert.Contains(t, out.String(), "Total:")
	assert.Contains(t, out.String(), "review")

	entry, ok := reg.Get("git-commit")
	require.True(t, ok)
	out.Reset()
	require.NoError(t, printEntry(&out, entry, reg))
	assert.Contains(t, out.String(), "Required by:")
	assert.Contains(t, out.String(), "Summarise the staged diff.")
}

func TestNoDefaultDirsRequiresSkillDirs(t *testing.T) {
	setViper(t, "skill_dirs", []string{})
	setViper(t, "no_default_dirs", true)

	_, err := newManager()
	assert.Error(t, err)
}

func TestWatchConfigFromViper(t *testing.T) {
	setViper(t, "watch.debounce", "75ms")
	setViper(t, "watch.recursive", false)
	setViper(t, "watch.ignore", []string{"drafts/**"})

	cfg := watchConfigFromViper()
	assert.Equal(t, 75*time.Millisecond, cfg.Debounce)
	assert.False(t, cfg.Recursive)
	assert.Equal(t, []string{"drafts/**"}, cfg.IgnorePatterns)
	assert.Error(t, cfg.Validate(), "watch paths come from the manager")

	cfg.WatchPaths = []string{t.TempDir()}
	assert.NoError(t, cfg.Validate())
}

func TestWatchConfigEventTypes(t *testing.T) {
	config := NewWatchConfig()
	types, err := config.EventTypes()
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TypeAdd, events.TypeChange, events.TypeUnlink, events.TypeError, events.TypeReady}, types)

	config.Events = []string{"change", " Skill:Registered "}
	types, err = config.EventTypes()
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TypeChange, events.TypeSkillRegistered}, types)

	config.Events = []string{"change", "chnage"}
	_, err = config.EventTypes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type 'chnage'")
	assert.Contains(t, err.Error(), "add, change, unlink")

	err = runWatch(context.Background(), config, &bytes.Buffer{})
	assert.Error(t, err, "an unknown type fails before any directory is loaded")
}

func TestPrintTemplateDiff(t *testing.T) {
	ev := events.New(events.TypeChange)
	ev.Path = "skills/commit.md"
	ev.OldEntry = &skilltypes.RegistryEntry{Skill: &skilltypes.Skill{Template: "line one\nline two\n"}}
	ev.Skill = &skilltypes.Skill{Template: "line one\nline 2\n"}

	var out bytes.Buffer
	printTemplateDiff(&out, ev)
	assert.Contains(t, out.String(), "-line two")
	assert.Contains(t, out.String(), "+line 2")

	out.Reset()
	ev.Skill = &skilltypes.Skill{Template: "line one\nline two\n"}
	printTemplateDiff(&out, ev)
	assert.Empty(t, out.String())
}

func TestValidateAndMigrateFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "skills", "commit.yaml")
	legacy := filepath.Join(dir, "skills", "notes.md")
	writeSkillFile(t, good, commitSkill)
	writeSkillFile(t, legacy, "---\nname: Release Notes\ndescription: Summarise changes\n---\nList merged PRs.\n")

	assert.NoError(t, validateFiles(context.Background(), []string{good}, false))
	assert.Error(t, validateFiles(context.Background(), []string{good, legacy}, false))
	assert.NoError(t, validateFiles(context.Background(), []string{good, legacy}, true))

	out := filepath.Join(dir, "out", "notes.json")
	require.NoError(t, migrateFile(context.Background(), legacy, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "release-notes"`)
}

func TestEncodeSkillYAML(t *testing.T) {
	var out bytes.Buffer
	skill := &skilltypes.Skill{ID: "a", Version: "1.0.0", Triggers: []string{"/a"}}
	require.NoError(t, encodeSkill(&out, skill, ".yml"))
	assert.Contains(t, out.String(), "id: a\n")
	assert.Contains(t, out.String(), "- /a")
}

func TestSkillSchema(t *testing.T) {
	schema := skillSchema()
	require.NotNil(t, schema.Properties)

	for _, key := range []string{"id", "version", "metadata", "triggers", "template", "dependencies"} {
		_, ok := schema.Properties.Get(key)
		assert.True(t, ok, "schema should describe %s", key)
	}
	assert.Contains(t, schema.Required, "id")
	assert.NotContains(t, schema.Required, "dependencies")
}
