// Package manager composes the skill registry, the hot-reload manager and the
// file-level collaborators behind a single API, and implements bulk loading
// and import/export of skills.
package manager

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/hotreload"
	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/registry"
	"github.com/jingkaihe/skillreg/pkg/skills"
	"github.com/jingkaihe/skillreg/pkg/telemetry"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

// Manager owns one registry and at most one watcher over it
type Manager struct {
	registry  *registry.Registry
	bus       *events.Bus
	parser    *skills.Parser
	migrator  *skills.Migrator
	loader    *skills.Loader
	watchCfg  *hotreload.Config
	skillDirs []string

	mu      sync.Mutex
	watcher *hotreload.Manager
}

// Option configures a Manager
type Option func(*Manager)

// WithRegistry uses reg instead of a new registry. Its bus becomes the
// manager's bus unless WithBus is also given.
func WithRegistry(reg *registry.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithBus sets the event bus shared by the registry and the watcher
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithParser sets the skill parser
func WithParser(p *skills.Parser) Option {
	return func(m *Manager) { m.parser = p }
}

// WithMigrator sets the legacy format migrator
func WithMigrator(mg *skills.Migrator) Option {
	return func(m *Manager) { m.migrator = mg }
}

// WithLoader sets the loader used for bulk loads and initial scans
func WithLoader(l *skills.Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithSkillDirs replaces the default skill directories
func WithSkillDirs(dirs ...string) Option {
	return func(m *Manager) { m.skillDirs = dirs }
}

// WithWatchConfig sets the hot-reload configuration
func WithWatchConfig(cfg *hotreload.Config) Option {
	return func(m *Manager) { m.watchCfg = cfg }
}

// New creates a manager. Unset collaborators get their defaults.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}

	switch {
	case m.registry == nil:
		if m.bus == nil {
			m.bus = events.NewBus()
		}
		m.registry = registry.New(registry.WithBus(m.bus))
	case m.bus == nil:
		m.bus = m.registry.Bus()
	}

	if m.parser == nil {
		m.parser = skills.NewParser()
	}
	if m.migrator == nil {
		m.migrator = skills.NewMigrator(m.parser)
	}
	if m.watchCfg == nil {
		m.watchCfg = hotreload.NewConfig()
	}

	if m.loader == nil {
		loaderOpts := []skills.Option{skills.WithIgnorePatterns(m.watchCfg.IgnorePatterns...)}
		if len(m.skillDirs) > 0 {
			loaderOpts = append(loaderOpts, skills.WithSkillDirs(m.skillDirs...))
		} else {
			loaderOpts = append(loaderOpts, skills.WithDefaultDirs())
		}
		loader, err := skills.NewLoader(loaderOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create skill loader")
		}
		m.loader = loader
	}

	return m, nil
}

// Registry returns the underlying registry
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Loader returns the loader
func (m *Manager) Loader() *skills.Loader {
	return m.loader
}

// Parser returns the parser
func (m *Manager) Parser() *skills.Parser {
	return m.parser
}

// Migrator returns the migrator
func (m *Manager) Migrator() *skills.Migrator {
	return m.migrator
}

// Watcher returns the hot-reload manager, or nil if watching never started
func (m *Manager) Watcher() *hotreload.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watcher
}

// Subscribe registers handler for registry and watcher events alike
func (m *Manager) Subscribe(handler events.Handler, types ...events.Type) func() {
	return m.bus.Subscribe(handler, types...)
}

// LoadReport summarizes a bulk load
type LoadReport struct {
	Files    int
	Loaded   []string
	Migrated []string
	// Shadowed lists files whose id was already loaded from a directory with
	// higher precedence
	Shadowed []string
	// Failed maps a file path to the reason it was not loaded
	Failed map[string]string
	Errors error
}

// LoadAll enumerates every skill directory, parses each file, migrates
// legacy documents and registers the result. A failing file is recorded in
// the report and does not stop the load. The returned error is only set when
// enumeration itself fails.
func (m *Manager) LoadAll(ctx context.Context) (report *LoadReport, err error) {
	err = telemetry.WithSpan(ctx, "manager.load_all", func(ctx context.Context) error {
		report, err = m.loadAll(ctx)
		if report != nil {
			telemetry.SetAttributes(ctx,
				attribute.Int("skills.files", report.Files),
				attribute.Int("skills.loaded", len(report.Loaded)),
				attribute.Int("skills.failed", len(report.Failed)),
			)
		}
		return err
	})
	return report, err
}

func (m *Manager) loadAll(ctx context.Context) (*LoadReport, error) {
	log := logger.G(ctx)

	files, err := m.loader.EnumerateAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate skill files")
	}

	report := &LoadReport{Files: len(files), Failed: make(map[string]string)}
	var errs *multierror.Error
	loadedFrom := make(map[string]string)

	fail := func(path string, err error) {
		report.Failed[path] = err.Error()
		errs = multierror.Append(errs, err)

		ev := events.New(events.TypeError)
		ev.Path = path
		ev.Err = err
		m.bus.Emit(ev)
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		skill, source, originalVersion, err := m.loadFile(ctx, path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("failed to load skill file")
			fail(path, err)
			continue
		}

		if prev, exists := loadedFrom[skill.ID]; exists && prev != path {
			log.WithField("path", path).WithField("skill", skill.ID).WithField("loaded_from", prev).
				Debug("skill already loaded from a higher precedence directory, skipping")
			report.Shadowed = append(report.Shadowed, path)
			continue
		}

		var registerOpts []registry.RegisterOption
		if originalVersion != "" {
			registerOpts = append(registerOpts, registry.WithOriginalVersion(originalVersion))
		}
		if _, err := m.registry.Register(skill, path, source, registerOpts...); err != nil {
			fail(path, err)
			continue
		}

		loadedFrom[skill.ID] = path
		report.Loaded = append(report.Loaded, skill.ID)
		if source == skilltypes.SourceMigrated {
			report.Migrated = append(report.Migrated, skill.ID)
		}
	}

	report.Errors = errs.ErrorOrNil()
	log.WithField("loaded", len(report.Loaded)).
		WithField("migrated", len(report.Migrated)).
		WithField("failed", len(report.Failed)).
		Info("loaded skills")

	return report, nil
}

// loadFile parses path, falling back to the migrator when the document is
// in an older format
func (m *Manager) loadFile(ctx context.Context, path string) (*skilltypes.Skill, skilltypes.Source, string, error) {
	parsed := m.parser.ParseFile(ctx, path)
	if parsed.Success {
		return parsed.Skill, m.loader.SourceFor(path), "", nil
	}

	version := parsed.DetectedFormatVersion
	if version == "" || version == skilltypes.FormatVersionCurrent {
		return nil, "", "", parsed.Error
	}

	migrated := m.migrator.MigrateFile(ctx, path)
	if !migrated.Success {
		return nil, "", "", errors.Wrapf(migrated.Error, "failed to migrate %s from format version %s", path, version)
	}
	return migrated.Skill, skilltypes.SourceMigrated, migrated.FromVersion, nil
}

func (m *Manager) watchConfig() *hotreload.Config {
	cfg := *m.watchCfg
	if len(cfg.WatchPaths) == 0 && !cfg.IncludeDefaultPaths {
		cfg.WatchPaths = m.loader.Dirs()
	}
	return &cfg
}

// StartWatching starts the hot-reload manager over the configured
// directories, creating it on first use
func (m *Manager) StartWatching(ctx context.Context) error {
	m.mu.Lock()
	if m.watcher == nil {
		watcher, err := hotreload.New(m.watchConfig(), m.registry, m.parser,
			hotreload.WithBus(m.bus),
			hotreload.WithEnumerator(m.loader),
			hotreload.WithSourceResolver(m.loader.SourceFor),
			hotreload.WithPrecedence(m.loader.Rank),
		)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.watcher = watcher
	}
	watcher := m.watcher
	m.mu.Unlock()

	return watcher.Start(ctx)
}

// StopWatching stops the hot-reload manager if it is running
func (m *Manager) StopWatching() error {
	watcher := m.Watcher()
	if watcher == nil {
		return nil
	}
	return watcher.Stop()
}

// Close stops watching, clears the registry and removes every subscriber
func (m *Manager) Close() error {
	err := m.StopWatching()
	m.registry.Clear()
	m.bus.Close()
	return err
}
