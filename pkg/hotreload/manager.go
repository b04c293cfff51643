package hotreload

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/registry"
	"github.com/jingkaihe/skillreg/pkg/skills"
	"github.com/jingkaihe/skillreg/pkg/telemetry"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

// State is the lifecycle state of a Manager
type State string

// State constants
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateWatching State = "watching"
	StateStopping State = "stopping"
)

// Parser turns a file into a skill
type Parser interface {
	ParseFile(ctx context.Context, path string) *skills.ParseResult
}

// Enumerator lists the skill files below a set of paths
type Enumerator interface {
	Enumerate(ctx context.Context, paths []string) ([]string, error)
}

// Registry is the part of the skill registry the manager mutates
type Registry interface {
	Register(skill *skilltypes.Skill, filePath string, source skilltypes.Source, opts ...registry.RegisterOption) (*skilltypes.RegistryEntry, error)
	UnregisterByPath(filePath string) (bool, error)
	GetByPath(filePath string) (*skilltypes.RegistryEntry, bool)
	Get(id string) (*skilltypes.RegistryEntry, bool)
}

// Stats are running counters of processed events
type Stats struct {
	State        State     `json:"state"`
	Watching     bool      `json:"watching"`
	WatchedFiles int       `json:"watchedFiles"`
	WatchedDirs  int       `json:"watchedDirs"`
	Shadowed     int       `json:"shadowed"`
	Adds         int64     `json:"adds"`
	Changes      int64     `json:"changes"`
	Unlinks      int64     `json:"unlinks"`
	Errors       int64     `json:"errors"`
	LastEventAt  time.Time `json:"lastEventAt,omitempty"`
}

// Option configures a Manager
type Option func(*Manager)

// WithBus emits events on bus instead of a private one
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithEnumerator sets the enumerator used for the initial scan and for
// directories created while watching
func WithEnumerator(e Enumerator) Option {
	return func(m *Manager) {
		if e != nil {
			m.enumerator = e
		}
	}
}

// WithSourceResolver sets how a file path is attributed to a source
func WithSourceResolver(fn func(path string) skilltypes.Source) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sourceFor = fn
		}
	}
}

// WithPrecedence sets how paths are ranked when two files declare the same
// skill id. Lower ranks win. By default a path ranks by the index of its
// watch root.
func WithPrecedence(rank func(path string) int) Option {
	return func(m *Manager) {
		if rank != nil {
			m.rank = rank
		}
	}
}

// Manager watches skill directories and applies changes to a registry
type Manager struct {
	cfg        *Config
	registry   Registry
	parser     Parser
	enumerator Enumerator
	sourceFor  func(string) skilltypes.Source
	rank       func(string) int
	ignore     *skills.IgnoreMatcher
	bus        *events.Bus
	debouncer  *debouncer
	leases     *Leases

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	watcher     *fsnotify.Watcher
	roots       []string
	watchedDirs map[string]bool
	files       map[string]bool
	// shadowed maps a file to the id it declares while a higher-precedence
	// file owns that id
	shadowed map[string]string
	cancel      context.CancelFunc
	done        chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New creates a hot-reload manager for reg. It does not start watching.
func New(cfg *Config, reg Registry, parser Parser, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if parser == nil {
		return nil, errors.New("parser is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid hot-reload configuration")
	}

	ignore, err := skills.NewIgnoreMatcher(cfg.IgnorePatterns...)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		registry:    reg,
		parser:      parser,
		sourceFor:   func(string) skilltypes.Source { return skilltypes.SourceUser },
		ignore:      ignore,
		bus:         events.NewBus(),
		debouncer:   newDebouncer(cfg.Debounce),
		leases:      NewLeases(cfg.LockTimeout),
		state:       StateIdle,
		watchedDirs: make(map[string]bool),
		files:       make(map[string]bool),
		shadowed:    make(map[string]string),
	}
	m.rank = m.rootRank
	for _, opt := range opts {
		opt(m)
	}

	if m.enumerator == nil {
		loader, err := skills.NewLoader(skills.WithSkillDirs(), skills.WithIgnorePatterns(cfg.IgnorePatterns...))
		if err != nil {
			return nil, err
		}
		m.enumerator = loader
	}

	return m, nil
}

// Bus returns the bus events are emitted on
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Subscribe registers handler for the given event types. Handlers may call
// Stop, except while handling the initial scan events emitted inside Start.
func (m *Manager) Subscribe(handler events.Handler, types ...events.Type) func() {
	return m.bus.Subscribe(handler, types...)
}

// Leases exposes the per-path lease table
func (m *Manager) Leases() *Leases {
	return m.leases
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Roots returns the absolute watch roots of the current session
func (m *Manager) Roots() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.roots...)
}

func (m *Manager) resolveRoots() ([]string, error) {
	paths := append([]string(nil), m.cfg.WatchPaths...)
	if m.cfg.IncludeDefaultPaths {
		project, home, err := skills.DefaultDirs()
		if err != nil {
			return nil, err
		}
		paths = append(paths, project, home)
	}

	seen := make(map[string]bool, len(paths))
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve watch path %s", p)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		roots = append(roots, abs)
	}
	return roots, nil
}

// Start subscribes to the watch paths, runs the initial scan and begins
// delivering live events. It returns once the manager is watching. Start is
// a no-op when already watching; a subscription failure returns a
// *WatchError and leaves the manager idle.
func (m *Manager) Start(ctx context.Context) error {
	started, err := m.start(ctx)
	if err != nil || !started {
		return err
	}

	m.emit(events.New(events.TypeReady))
	return nil
}

func (m *Manager) start(ctx context.Context) (bool, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.State() == StateWatching {
		return false, nil
	}
	m.setState(StateStarting)

	log := logger.G(ctx)

	roots, err := m.resolveRoots()
	if err != nil {
		m.setState(StateIdle)
		return false, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.setState(StateIdle)
		return false, &WatchError{Op: "create", Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.watcher = watcher
	m.roots = roots
	m.watchedDirs = make(map[string]bool)
	m.files = make(map[string]bool)
	m.shadowed = make(map[string]string)
	m.mu.Unlock()

	fail := func(err error) (bool, error) {
		cancel()
		_ = watcher.Close()
		m.mu.Lock()
		m.watcher = nil
		m.roots = nil
		m.watchedDirs = make(map[string]bool)
		m.mu.Unlock()
		m.setState(StateIdle)
		return false, err
	}

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				log.WithField("path", root).Warn("watch path does not exist, skipping")
				continue
			}
			return fail(&WatchError{Path: root, Op: "stat", Err: err})
		}
		if err := m.watchTree(runCtx, root); err != nil {
			return fail(err)
		}
	}

	if !m.cfg.IgnoreInitial {
		if err := m.initialScan(runCtx, roots); err != nil {
			return fail(err)
		}
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, watcher, done)

	m.setState(StateWatching)
	m.setWatching(true)

	log.WithField("roots", roots).Info("watching skill directories")
	return true, nil
}

// Stop cancels pending debounce timers, releases every lease and closes the
// subscription. Handlers already running are not awaited. Stop is safe to
// call when the manager was never started.
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	watcher, cancel, done := m.watcher, m.cancel, m.done
	m.mu.Unlock()

	m.debouncer.stop()
	m.leases.ReleaseAll()

	if cancel != nil {
		cancel()
	}

	var err error
	if watcher != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			err = &WatchError{Op: "close", Err: closeErr}
		}
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.watcher = nil
	m.cancel = nil
	m.done = nil
	m.watchedDirs = make(map[string]bool)
	m.shadowed = make(map[string]string)
	m.state = StateIdle
	m.mu.Unlock()
	m.setWatching(false)

	return err
}

// watchTree adds root, and its subdirectories when recursive, to the watcher
func (m *Manager) watchTree(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return &WatchError{Path: path, Op: "walk", Err: err}
		}
		if !d.IsDir() {
			if path == root {
				return m.watchPath(ctx, path)
			}
			return nil
		}
		if path != root {
			if !m.cfg.Recursive || m.isIgnored(path) {
				return filepath.SkipDir
			}
		}
		return m.watchPath(ctx, path)
	})
}

// watchPath adds a single path to the watcher, retrying transient failures.
// Directories created while watching can briefly fail to register.
func (m *Manager) watchPath(ctx context.Context, path string) error {
	m.mu.Lock()
	watcher := m.watcher
	already := m.watchedDirs[path]
	m.mu.Unlock()
	if watcher == nil || already {
		return nil
	}

	err := retry.Do(
		func() error { return watcher.Add(path) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(20*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fsnotify.ErrClosed)
		}),
	)
	if err != nil {
		return &WatchError{Path: path, Op: "add", Err: err}
	}

	m.mu.Lock()
	if m.watcher == watcher {
		m.watchedDirs[path] = true
	}
	m.mu.Unlock()

	logger.G(ctx).WithField("path", path).Debug("added path to watcher")
	return nil
}

func (m *Manager) initialScan(ctx context.Context, roots []string) error {
	files, err := m.enumerator.Enumerate(ctx, roots)
	if err != nil {
		return errors.Wrap(err, "failed to enumerate skill files")
	}

	for _, file := range files {
		if !m.accepts(file) {
			continue
		}
		if !m.cfg.Recursive && !m.isDirectChild(file) {
			continue
		}
		m.HandleEvent(ctx, file, events.TypeAdd)
	}
	return nil
}

func (m *Manager) isDirectChild(path string) bool {
	dir := filepath.Dir(path)
	for _, root := range m.Roots() {
		if dir == root || path == root {
			return true
		}
	}
	return false
}

// rootRank ranks path by the index of the first watch root containing it.
// Paths outside every root rank last.
func (m *Manager) rootRank(path string) int {
	roots := m.Roots()
	for i, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return i
		}
	}
	return len(roots)
}

// rootFor returns the most specific watch root containing path
func (m *Manager) rootFor(path string) string {
	best := ""
	for _, root := range m.Roots() {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

func (m *Manager) isIgnored(path string) bool {
	root := m.rootFor(path)
	if root == "" || root == path {
		return false
	}
	return m.ignore.MatchUnder(root, path)
}

// accepts reports whether path is a skill file the manager handles
func (m *Manager) accepts(path string) bool {
	return skills.IsSkillFile(path) && !m.isIgnored(path)
}

// run drains the watcher. It never calls subscribers itself, so a subscriber
// may call Stop.
func (m *Manager) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.handleRaw(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.G(ctx).WithError(err).Error("error watching skill files")
			go m.emitError(ctx, "", &WatchError{Op: "watch", Err: err})
		case <-ctx.Done():
			return
		}
	}
}

// handleRaw maps a raw fsnotify event onto the debounced pipeline
func (m *Manager) handleRaw(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if m.isIgnored(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			go m.handleNewDir(ctx, path)
			return
		}
		if m.accepts(path) {
			m.schedule(ctx, path, events.TypeAdd)
		}
	case event.Has(fsnotify.Write):
		if m.accepts(path) {
			m.schedule(ctx, path, events.TypeChange)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		m.handleGone(ctx, path)
	}
}

// handleNewDir starts watching a directory created while running and picks up
// skill files written into it before the watch was in place
func (m *Manager) handleNewDir(ctx context.Context, dir string) {
	if !m.cfg.Recursive {
		return
	}
	if err := m.watchTree(ctx, dir); err != nil {
		m.emitError(ctx, dir, err)
		return
	}

	files, err := m.enumerator.Enumerate(ctx, []string{dir})
	if err != nil {
		m.emitError(ctx, dir, err)
		return
	}
	for _, file := range files {
		if m.accepts(file) {
			m.schedule(ctx, file, events.TypeAdd)
		}
	}
}

// handleGone schedules unlinks for a removed file or every tracked file below
// a removed directory
func (m *Manager) handleGone(ctx context.Context, path string) {
	m.mu.Lock()
	delete(m.watchedDirs, path)
	var gone []string
	prefix := path + string(filepath.Separator)
	for file := range m.files {
		if file == path || strings.HasPrefix(file, prefix) {
			gone = append(gone, file)
		}
	}
	for dir := range m.watchedDirs {
		if strings.HasPrefix(dir, prefix) {
			delete(m.watchedDirs, dir)
		}
	}
	m.mu.Unlock()

	if len(gone) == 0 && skills.IsSkillFile(path) {
		gone = append(gone, path)
	}
	sort.Strings(gone)
	for _, file := range gone {
		m.schedule(ctx, file, events.TypeUnlink)
	}
}

func (m *Manager) schedule(ctx context.Context, path string, op events.Type) {
	m.debouncer.schedule(path, op, func(op events.Type) {
		m.HandleEvent(ctx, path, op)
	})
}

// HandleEvent runs the handler for op on path under the path's lease. It
// returns false when another handler holds the lease and the event was
// dropped.
func (m *Manager) HandleEvent(ctx context.Context, path string, op events.Type) bool {
	release, ok := m.leases.TryAcquire(path)
	if !ok {
		logger.G(ctx).WithField("path", path).WithField("op", op).Debug("path is locked, dropping event")
		return false
	}
	defer release()

	telemetry.WithSpanFunc(ctx, "hotreload."+string(op), func(ctx context.Context) {
		switch op {
		case events.TypeAdd, events.TypeChange:
			m.handleUpsert(ctx, path, op)
		case events.TypeUnlink:
			m.handleUnlink(ctx, path)
		}
	}, attribute.String("skill.path", path))

	return true
}

func (m *Manager) handleUpsert(ctx context.Context, path string, op events.Type) {
	log := logger.G(ctx).WithField("path", path)

	result := m.parser.ParseFile(ctx, path)
	if !result.Success {
		var err error = errors.Errorf("failed to parse %s", path)
		if result.Error != nil {
			err = result.Error
		}
		log.WithError(err).Warn("failed to parse skill file")
		m.emitError(ctx, path, err)
		return
	}

	m.mu.Lock()
	m.files[path] = true
	m.mu.Unlock()

	old, existed := m.registry.GetByPath(path)

	if winner, shadowed := m.shadowedBy(result.Skill.ID, path); shadowed {
		m.mu.Lock()
		m.shadowed[path] = result.Skill.ID
		m.mu.Unlock()
		log.WithField("skill", result.Skill.ID).WithField("winner", winner).Info("skill is provided by a higher-precedence file, skipping")
		if existed && m.cfg.AutoUnregister {
			m.handleUnlink(ctx, path)
			m.mu.Lock()
			m.files[path] = true
			m.shadowed[path] = result.Skill.ID
			m.mu.Unlock()
		}
		return
	}
	m.mu.Lock()
	delete(m.shadowed, path)
	m.mu.Unlock()

	ev := events.New(op)
	ev.Path = path
	ev.Skill = result.Skill
	ev.SkillID = result.Skill.ID

	if m.cfg.AutoRegister {
		displaced, hadID := m.registry.Get(result.Skill.ID)
		entry, err := m.registry.Register(result.Skill, path, m.sourceFor(path))
		if err != nil {
			log.WithError(err).Warn("failed to register skill")
			m.emitError(ctx, path, err)
			return
		}
		ev.Entry = entry

		if hadID && displaced.FilePath != "" && displaced.FilePath != path {
			m.mu.Lock()
			if m.files[displaced.FilePath] {
				m.shadowed[displaced.FilePath] = result.Skill.ID
			}
			m.mu.Unlock()
		}
	}

	if existed {
		ev.Type = events.TypeChange
		ev.OldEntry = old
	} else {
		ev.Type = events.TypeAdd
	}

	log.WithField("skill", ev.SkillID).WithField("op", ev.Type).Debug("skill file processed")
	m.emit(ev)

	if existed && old.ID() != result.Skill.ID && m.cfg.AutoRegister {
		m.promoteShadowed(ctx, old.ID())
	}
}

// shadowedBy reports the file that owns id when it outranks path. A winner
// whose file no longer exists never shadows.
func (m *Manager) shadowedBy(id, path string) (string, bool) {
	current, ok := m.registry.Get(id)
	if !ok || current.FilePath == "" || current.FilePath == path {
		return "", false
	}
	if _, err := os.Stat(current.FilePath); err != nil {
		return "", false
	}

	winnerRank, rank := m.rank(current.FilePath), m.rank(path)
	if winnerRank < rank || (winnerRank == rank && current.FilePath < path) {
		return current.FilePath, true
	}
	return "", false
}

// promoteShadowed schedules the files that were shadowed by id so the next
// one in precedence order takes over
func (m *Manager) promoteShadowed(ctx context.Context, id string) {
	m.mu.Lock()
	var paths []string
	for path, shadowedID := range m.shadowed {
		if shadowedID == id {
			paths = append(paths, path)
		}
	}
	m.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		m.schedule(ctx, path, events.TypeAdd)
	}
}

func (m *Manager) handleUnlink(ctx context.Context, path string) {
	m.mu.Lock()
	delete(m.files, path)
	delete(m.shadowed, path)
	m.mu.Unlock()

	ev := events.New(events.TypeUnlink)
	ev.Path = path

	old, existed := m.registry.GetByPath(path)
	if existed {
		ev.SkillID = old.ID()
	}

	if existed && m.cfg.AutoUnregister {
		if _, err := m.registry.UnregisterByPath(path); err != nil {
			logger.G(ctx).WithField("path", path).WithError(err).Warn("failed to unregister skill")
			m.emitError(ctx, path, err)
			m.emit(ev)
			return
		}
	}

	if existed {
		ev.Entry = old
	}
	m.emit(ev)

	if existed && m.cfg.AutoUnregister {
		m.promoteShadowed(ctx, old.ID())
	}
}

func (m *Manager) emitError(ctx context.Context, path string, err error) {
	telemetry.RecordError(ctx, err)

	ev := events.New(events.TypeError)
	ev.Path = path
	ev.Err = err
	var depErr *registry.DependencyError
	if errors.As(err, &depErr) {
		ev.SkillID = depErr.SkillID
	}
	m.emit(ev)
}

func (m *Manager) emit(ev events.Event) {
	m.statsMu.Lock()
	switch ev.Type {
	case events.TypeAdd:
		m.stats.Adds++
	case events.TypeChange:
		m.stats.Changes++
	case events.TypeUnlink:
		m.stats.Unlinks++
	case events.TypeError:
		m.stats.Errors++
	}
	m.stats.LastEventAt = ev.Time
	m.statsMu.Unlock()

	m.bus.Emit(ev)
}

func (m *Manager) setWatching(watching bool) {
	m.statsMu.Lock()
	m.stats.Watching = watching
	m.statsMu.Unlock()
}

// Stats returns a snapshot of the running counters
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	stats := m.stats
	m.statsMu.Unlock()

	m.mu.Lock()
	stats.State = m.state
	stats.WatchedFiles = len(m.files)
	stats.WatchedDirs = len(m.watchedDirs)
	stats.Shadowed = len(m.shadowed)
	m.mu.Unlock()

	return stats
}
