package hotreload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/registry"
	"github.com/jingkaihe/skillreg/pkg/skills"
)

const waitFor = 3 * time.Second

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) ofType(t events.Type) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *collector) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func skillYAML(id, version string, deps ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nversion: %s\n", id, version)
	fmt.Fprintf(&b, "metadata:\n  name: {en: %s, zh-CN: %s}\n  description: {en: about %s, zh-CN: 关于 %s}\n  category: development\n", id, id, id, id)
	fmt.Fprintf(&b, "triggers: [/%s]\ntemplate: do %s\n", id, id)
	if len(deps) > 0 {
		fmt.Fprintf(&b, "dependencies: [%s]\n", strings.Join(deps, ", "))
	}
	return b.String()
}

func writeSkill(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type fixture struct {
	root    string
	reg     *registry.Registry
	manager *Manager
	events  *collector
}

func newFixture(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()

	root := filepath.Join(t.TempDir(), "skills")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := NewConfig()
	cfg.WatchPaths = []string{root}
	cfg.Debounce = 100 * time.Millisecond
	if configure != nil {
		configure(cfg)
	}

	reg := registry.New()
	m, err := New(cfg, reg, skills.NewParser(), WithBus(reg.Bus()))
	require.NoError(t, err)

	c := &collector{}
	reg.Subscribe(c.handle)

	t.Cleanup(func() { _ = m.Stop() })
	return &fixture{root: root, reg: reg, manager: m, events: c}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(&Config{LockTimeout: time.Second}, registry.New(), skills.NewParser())
	assert.Error(t, err, "no watch paths")

	cfg := NewConfig()
	cfg.WatchPaths = []string{"."}
	cfg.Debounce = -time.Second
	_, err = New(cfg, registry.New(), skills.NewParser())
	assert.Error(t, err)

	cfg = NewConfig()
	cfg.WatchPaths = []string{"."}
	_, err = New(cfg, nil, skills.NewParser())
	assert.Error(t, err)
}

func TestInitialScanBeforeReady(t *testing.T) {
	f := newFixture(t, nil)
	writeSkill(t, filepath.Join(f.root, "alpha.yaml"), skillYAML("alpha", "1.0.0"))
	writeSkill(t, filepath.Join(f.root, "nested", "SKILL.md"), "---\n"+skillYAML("beta", "1.0.0")+"---\nbody\n")
	writeSkill(t, filepath.Join(f.root, "broken.yaml"), "id: [")
	writeSkill(t, filepath.Join(f.root, ".hidden", "gamma.yaml"), skillYAML("gamma", "1.0.0"))

	require.NoError(t, f.manager.Start(context.Background()))
	assert.Equal(t, StateWatching, f.manager.State())

	assert.True(t, f.reg.Has("alpha"))
	assert.True(t, f.reg.Has("beta"))
	assert.False(t, f.reg.Has("gamma"), "hidden directories are ignored")

	types := f.events.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeReady, types[len(types)-1], "ready follows the initial scan")
	assert.Len(t, f.events.ofType(events.TypeAdd), 2)
	require.Len(t, f.events.ofType(events.TypeError), 1)
	assert.Equal(t, filepath.Join(f.root, "broken.yaml"), f.events.ofType(events.TypeError)[0].Path)

	stats := f.manager.Stats()
	assert.True(t, stats.Watching)
	assert.Equal(t, 2, stats.WatchedFiles)
	assert.Equal(t, int64(2), stats.Adds)
	assert.Equal(t, int64(1), stats.Errors)
	assert.False(t, stats.LastEventAt.IsZero())
}

func TestIgnoreInitial(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IgnoreInitial = true })
	writeSkill(t, filepath.Join(f.root, "alpha.yaml"), skillYAML("alpha", "1.0.0"))

	require.NoError(t, f.manager.Start(context.Background()))
	assert.Equal(t, 0, f.reg.Count())
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.manager.Stop(), "stop before start is safe")
	assert.Equal(t, StateIdle, f.manager.State())

	require.NoError(t, f.manager.Start(context.Background()))
	require.NoError(t, f.manager.Start(context.Background()), "start while watching is a no-op")
	assert.Len(t, f.events.ofType(events.TypeReady), 1)

	require.NoError(t, f.manager.Stop())
	assert.Equal(t, StateIdle, f.manager.State())
	assert.False(t, f.manager.Stats().Watching)

	writeSkill(t, filepath.Join(f.root, "late.yaml"), skillYAML("late", "1.0.0"))
	time.Sleep(300 * time.Millisecond)
	assert.False(t, f.reg.Has("late"), "no events are processed after stop")

	require.NoError(t, f.manager.Start(context.Background()))
	assert.True(t, f.reg.Has("late"), "restart rescans")
}

func TestMissingWatchPathIsSkipped(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.WatchPaths = append(c.WatchPaths, filepath.Join(os.TempDir(), "skillreg-does-not-exist"))
	})
	require.NoError(t, f.manager.Start(context.Background()))
	assert.Len(t, f.manager.Roots(), 2)
}

func TestDebounceCoalescesWrites(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.root, "alpha.yaml")
	writeSkill(t, path, skillYAML("alpha", "1.0.0"))
	require.NoError(t, f.manager.Start(context.Background()))

	for _, v := range []string{"1.0.1", "1.0.2", "1.0.3"} {
		writeSkill(t, path, skillYAML("alpha", v))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(f.events.ofType(events.TypeChange)) > 0
	}, waitFor, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)

	changes := f.events.ofType(events.TypeChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "1.0.0", changes[0].OldEntry.Skill.Version)
	assert.Equal(t, "1.0.3", changes[0].Entry.Skill.Version)
	assert.Len(t, f.events.ofType(events.TypeSkillUpdated), 1)

	entry, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "1.0.3", entry.Skill.Version)
}

func TestLockedPathDropsEvent(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IgnoreInitial = true })
	path := filepath.Join(f.root, "alpha.yaml")
	writeSkill(t, path, skillYAML("alpha", "1.0.0"))

	release, ok := f.manager.Leases().TryAcquire(path)
	require.True(t, ok)

	assert.False(t, f.manager.HandleEvent(context.Background(), path, events.TypeAdd))
	assert.False(t, f.reg.Has("alpha"), "a dropped event never reaches the registry")

	release()
	assert.True(t, f.manager.HandleEvent(context.Background(), path, events.TypeAdd))
	assert.True(t, f.reg.Has("alpha"))
	assert.False(t, f.manager.Leases().Held(path), "lease is released after the handler")
}

func TestConcurrentHandlersForSamePathSerialize(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IgnoreInitial = true })
	path := filepath.Join(f.root, "alpha.yaml")
	writeSkill(t, path, skillYAML("alpha", "2.0.0"))

	var active, maxActive int32
	var mu sync.Mutex
	f.reg.Subscribe(func(events.Event) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}, events.TypeSkillRegistered, events.TypeSkillUpdated)

	var wg sync.WaitGroup
	for _, op := range []events.Type{events.TypeAdd, events.TypeChange, events.TypeAdd, events.TypeChange} {
		wg.Add(1)
		go func(op events.Type) {
			defer wg.Done()
			f.manager.HandleEvent(context.Background(), path, op)
		}(op)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	entry, ok := f.reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", entry.Skill.Version)
}

func TestUnlinkUnregisters(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.root, "alpha.yaml")
	writeSkill(t, path, skillYAML("alpha", "1.0.0"))
	require.NoError(t, f.manager.Start(context.Background()))
	require.True(t, f.reg.Has("alpha"))

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return len(f.events.ofType(events.TypeUnlink)) == 1
	}, waitFor, 20*time.Millisecond)

	unlink := f.events.ofType(events.TypeUnlink)[0]
	require.NotNil(t, unlink.Entry)
	assert.Equal(t, "alpha", unlink.Entry.ID())
	assert.False(t, f.reg.Has("alpha"))
	assert.Equal(t, 0, f.manager.Stats().WatchedFiles)
}

func TestUnlinkBlockedByDependents(t *testing.T) {
	f := newFixture(t, nil)
	basePath := filepath.Join(f.root, "base.yaml")
	writeSkill(t, basePath, skillYAML("base", "1.0.0"))
	writeSkill(t, filepath.Join(f.root, "feature.yaml"), skillYAML("feature", "1.0.0", "base"))
	require.NoError(t, f.manager.Start(context.Background()))

	require.NoError(t, os.Remove(basePath))

	require.Eventually(t, func() bool {
		return len(f.events.ofType(events.TypeUnlink)) == 1
	}, waitFor, 20*time.Millisecond)

	errs := f.events.ofType(events.TypeError)
	require.Len(t, errs, 1)
	assert.True(t, registry.IsDependencyError(errs[0].Err))
	assert.Equal(t, "base", errs[0].SkillID)

	unlink := f.events.ofType(events.TypeUnlink)[0]
	assert.Nil(t, unlink.Entry)
	assert.True(t, f.reg.Has("base"), "blocked unlink leaves the skill registered")
}

func TestAutoRegisterDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.AutoRegister = false
		c.AutoUnregister = false
	})
	path := filepath.Join(f.root, "alpha.yaml")
	writeSkill(t, path, skillYAML("alpha", "1.0.0"))
	require.NoError(t, f.manager.Start(context.Background()))

	adds := f.events.ofType(events.TypeAdd)
	require.Len(t, adds, 1)
	assert.Equal(t, "alpha", adds[0].SkillID)
	assert.Nil(t, adds[0].Entry)
	assert.Equal(t, 0, f.reg.Count())
}

func TestLegacyFileIsReportedNotMigrated(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Start(context.Background()))

	path := filepath.Join(f.root, "old.md")
	writeSkill(t, path, "---\nname: Old Skill\ndescription: legacy\n---\nDo it.\n")

	require.Eventually(t, func() bool {
		return len(f.events.ofType(events.TypeError)) == 1
	}, waitFor, 20*time.Millisecond)

	assert.Contains(t, f.events.ofType(events.TypeError)[0].Err.Error(), "requires migration")
	assert.Equal(t, 0, f.reg.Count())
}

func TestNewDirectoryIsWatched(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Start(context.Background()))

	writeSkill(t, filepath.Join(f.root, "team", "deep", "delta.yaml"), skillYAML("delta", "1.0.0"))

	require.Eventually(t, func() bool { return f.reg.Has("delta") }, waitFor, 20*time.Millisecond)

	writeSkill(t, filepath.Join(f.root, "team", "deep", "epsilon.yaml"), skillYAML("epsilon", "1.0.0"))
	require.Eventually(t, func() bool { return f.reg.Has("epsilon") }, waitFor, 20*time.Millisecond)
}

func TestRemovedDirectoryUnlinksItsFiles(t *testing.T) {
	f := newFixture(t, nil)
	writeSkill(t, filepath.Join(f.root, "team", "one.yaml"), skillYAML("one", "1.0.0"))
	writeSkill(t, filepath.Join(f.root, "team", "two.yaml"), skillYAML("two", "1.0.0"))
	require.NoError(t, f.manager.Start(context.Background()))
	require.Equal(t, 2, f.reg.Count())

	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "team")))

	require.Eventually(t, func() bool { return f.reg.Count() == 0 }, waitFor, 20*time.Millisecond)
}

func TestSameIDAcrossRootsKeepsRootOrder(t *testing.T) {
	base := t.TempDir()
	project := filepath.Join(base, "project")
	home := filepath.Join(base, "home")
	projectPath := filepath.Join(project, "commit.yaml")
	homePath := filepath.Join(home, "commit.yaml")
	writeSkill(t, projectPath, skillYAML("git-commit", "1.0.0"))
	writeSkill(t, homePath, skillYAML("git-commit", "9.0.0"))

	f := newFixture(t, func(c *Config) { c.WatchPaths = []string{project, home} })
	require.NoError(t, f.manager.Start(context.Background()))

	entry, ok := f.reg.Get("git-commit")
	require.True(t, ok)
	assert.Equal(t, projectPath, entry.FilePath)
	assert.Equal(t, "1.0.0", entry.Skill.Version)
	assert.Equal(t, 1, f.manager.Stats().Shadowed)
	assert.Len(t, f.events.ofType(events.TypeAdd), 1)

	writeSkill(t, homePath, skillYAML("git-commit", "9.0.1"))
	time.Sleep(400 * time.Millisecond)
	entry, _ = f.reg.Get("git-commit")
	assert.Equal(t, projectPath, entry.FilePath, "editing the shadowed file does not flip the winner")

	require.NoError(t, os.Remove(projectPath))

	require.Eventually(t, func() bool {
		entry, ok := f.reg.Get("git-commit")
		return ok && entry.FilePath == homePath
	}, waitFor, 20*time.Millisecond)
	entry, _ = f.reg.Get("git-commit")
	assert.Equal(t, "9.0.1", entry.Skill.Version)
	assert.Equal(t, 0, f.manager.Stats().Shadowed)
}

func TestHigherPrecedenceFileTakesOver(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IgnoreInitial = true })
	first := filepath.Join(f.root, "b.yaml")
	second := filepath.Join(f.root, "a.yaml")
	writeSkill(t, first, skillYAML("dup", "2.0.0"))
	writeSkill(t, second, skillYAML("dup", "1.0.0"))
	require.NoError(t, f.manager.Start(context.Background()))

	require.True(t, f.manager.HandleEvent(context.Background(), first, events.TypeAdd))
	require.True(t, f.manager.HandleEvent(context.Background(), second, events.TypeAdd))

	entry, ok := f.reg.Get("dup")
	require.True(t, ok)
	assert.Equal(t, second, entry.FilePath, "lexically first file in a root wins")
	assert.Equal(t, 1, f.manager.Stats().Shadowed)

	require.True(t, f.manager.HandleEvent(context.Background(), first, events.TypeChange))
	entry, _ = f.reg.Get("dup")
	assert.Equal(t, second, entry.FilePath)
}

func TestFileRewrittenWithNewID(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(f.root, "skill.yaml")
	writeSkill(t, path, skillYAML("alpha", "1.0.0"))
	require.NoError(t, f.manager.Start(context.Background()))
	require.True(t, f.reg.Has("alpha"))

	writeSkill(t, path, skillYAML("beta", "1.0.0"))

	require.Eventually(t, func() bool {
		return len(f.events.ofType(events.TypeChange)) == 1
	}, waitFor, 20*time.Millisecond)

	change := f.events.ofType(events.TypeChange)[0]
	assert.Equal(t, "beta", change.SkillID)
	assert.Equal(t, "alpha", change.OldEntry.ID())
	assert.Equal(t, "beta", change.Entry.ID())

	unregistered := f.events.ofType(events.TypeSkillUnregistered)
	require.Len(t, unregistered, 1)
	assert.Equal(t, "alpha", unregistered[0].SkillID)

	assert.False(t, f.reg.Has("alpha"))
	entry, ok := f.reg.GetByPath(path)
	require.True(t, ok)
	assert.Equal(t, "beta", entry.ID())
}

func TestSubscriberMayStopOnWatchError(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Start(context.Background()))

	stopped := make(chan error, 1)
	f.manager.Subscribe(func(events.Event) {
		stopped <- f.manager.Stop()
	}, events.TypeError)

	f.manager.mu.Lock()
	watcher := f.manager.watcher
	f.manager.mu.Unlock()
	require.NotNil(t, watcher)
	watcher.Errors <- errors.New("event queue overflow")

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Stop called from a subscriber did not return")
	}
	assert.Equal(t, StateIdle, f.manager.State())
}

func TestSubscriberMayStopOnReady(t *testing.T) {
	f := newFixture(t, nil)

	var stopErr error
	f.manager.Subscribe(func(events.Event) {
		stopErr = f.manager.Stop()
	}, events.TypeReady)

	done := make(chan error, 1)
	go func() { done <- f.manager.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Start did not return")
	}
	assert.NoError(t, stopErr)
	assert.Equal(t, StateIdle, f.manager.State())
}
