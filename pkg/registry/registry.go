// Package registry implements the in-memory skill index: lookups by id, file
// path, trigger and category, trigger conflict detection, dependency
// resolution and statistics.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/types/skills"
)

type idSet map[string]struct{}

func (s idSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Registry owns every registered skill and the indices over them. All
// mutations happen under one lock so the indices are always consistent with
// each other; events are emitted only after the lock is released.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*skills.RegistryEntry
	byPath     map[string]string
	byTrigger  map[string]idSet
	byCategory map[skills.Category]idSet
	dependents map[string]idSet

	bus *events.Bus
	now func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithBus makes the registry publish to an existing event bus
func WithBus(bus *events.Bus) Option {
	return func(r *Registry) {
		if bus != nil {
			r.bus = bus
		}
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		bus: events.NewBus(),
		now: time.Now,
	}
	r.reset()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) reset() {
	r.entries = make(map[string]*skills.RegistryEntry)
	r.byPath = make(map[string]string)
	r.byTrigger = make(map[string]idSet)
	r.byCategory = make(map[skills.Category]idSet)
	r.dependents = make(map[string]idSet)
}

// Bus returns the event bus the registry publishes to
func (r *Registry) Bus() *events.Bus {
	return r.bus
}

// Subscribe is a shorthand for Bus().Subscribe
func (r *Registry) Subscribe(handler events.Handler, types ...events.Type) func() {
	return r.bus.Subscribe(handler, types...)
}

type registerOptions struct {
	originalVersion string
}

// RegisterOption tunes a single Register call
type RegisterOption func(*registerOptions)

// WithOriginalVersion records the pre-migration format version of the skill
func WithOriginalVersion(version string) RegisterOption {
	return func(o *registerOptions) {
		o.originalVersion = version
	}
}

// Register inserts a copy of skill or replaces the entry with the same id.
// Trigger conflicts are reported on the bus but never prevent registration.
// Enabled state and registration time survive a replacement.
func (r *Registry) Register(skill *skills.Skill, filePath string, source skills.Source, opts ...RegisterOption) (*skills.RegistryEntry, error) {
	if skill == nil || skill.ID == "" {
		return nil, ErrInvalidSkill
	}
	if source == "" {
		source = skills.SourceUser
	}

	options := &registerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	skill = skill.Clone()
	pending := make([]events.Event, 0, 3)

	r.mu.Lock()

	if filePath != "" {
		if boundID, ok := r.byPath[filePath]; ok && boundID != skill.ID {
			pending = append(pending, r.rebindPathLocked(filePath, boundID)...)
		}
	}

	conflicts := r.detectConflictsLocked(skill)

	now := r.now()
	previous := r.entries[skill.ID]
	entry := &skills.RegistryEntry{
		Skill:               skill,
		FilePath:            filePath,
		Enabled:             true,
		Source:              source,
		OriginalVersion:     options.originalVersion,
		RegisteredAt:        now,
		ModifiedAt:          now,
		EstimatedTokenCount: estimateTokens(skill),
		Checksum:            checksum(skill),
	}

	if previous != nil {
		entry.Enabled = previous.Enabled
		entry.RegisteredAt = previous.RegisteredAt
		r.removeIndicesLocked(previous)
	}

	r.entries[skill.ID] = entry
	r.addIndicesLocked(entry)
	r.rebuildDependentsLocked()

	result := entry.Clone()
	var old *skills.RegistryEntry
	if previous != nil {
		old = previous.Clone()
	}

	r.mu.Unlock()

	for _, e := range pending {
		r.bus.Emit(e)
	}

	if len(conflicts) > 0 {
		ev := events.New(events.TypeConflictDetected)
		ev.SkillID = skill.ID
		ev.Path = filePath
		ev.Conflicts = conflicts
		ev.Err = &ConflictError{SkillID: skill.ID, Conflicts: conflicts}
		r.bus.Emit(ev)
	}

	if old == nil {
		ev := events.New(events.TypeSkillRegistered)
		ev.SkillID = skill.ID
		ev.Path = filePath
		ev.Entry = result
		r.bus.Emit(ev)
	} else {
		ev := events.New(events.TypeSkillUpdated)
		ev.SkillID = skill.ID
		ev.Path = filePath
		ev.Entry = result
		ev.OldEntry = old
		r.bus.Emit(ev)
	}

	return result, nil
}

// rebindPathLocked handles a file that used to declare boundID and now
// declares a different id. The stale entry is dropped unless other skills
// still depend on it, in which case only the path binding is released.
func (r *Registry) rebindPathLocked(filePath, boundID string) []events.Event {
	stale, ok := r.entries[boundID]
	if !ok {
		delete(r.byPath, filePath)
		return nil
	}

	if deps := r.dependents[boundID]; len(deps) > 0 {
		logger.G(context.Background()).WithFields(map[string]interface{}{
			"path":       filePath,
			"skill":      boundID,
			"dependents": deps.sorted(),
		}).Warn("file now declares a different skill; keeping previous skill because other skills depend on it")
		delete(r.byPath, filePath)
		stale.FilePath = ""
		return nil
	}

	r.removeIndicesLocked(stale)
	delete(r.entries, boundID)
	r.rebuildDependentsLocked()

	ev := events.New(events.TypeSkillUnregistered)
	ev.SkillID = boundID
	ev.Path = filePath
	ev.Entry = stale.Clone()
	return []events.Event{ev}
}

func (r *Registry) addIndicesLocked(entry *skills.RegistryEntry) {
	id := entry.Skill.ID

	if entry.FilePath != "" {
		r.byPath[entry.FilePath] = id
	}

	for _, key := range entry.Skill.TriggerKeys() {
		set, ok := r.byTrigger[key]
		if !ok {
			set = make(idSet)
			r.byTrigger[key] = set
		}
		set[id] = struct{}{}
	}

	category := entry.Skill.Metadata.Category
	set, ok := r.byCategory[category]
	if !ok {
		set = make(idSet)
		r.byCategory[category] = set
	}
	set[id] = struct{}{}
}

func (r *Registry) removeIndicesLocked(entry *skills.RegistryEntry) {
	id := entry.Skill.ID

	if entry.FilePath != "" && r.byPath[entry.FilePath] == id {
		delete(r.byPath, entry.FilePath)
	}

	for _, key := range entry.Skill.TriggerKeys() {
		if set, ok := r.byTrigger[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byTrigger, key)
			}
		}
	}

	category := entry.Skill.Metadata.Category
	if set, ok := r.byCategory[category]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byCategory, category)
		}
	}
}

// rebuildDependentsLocked recomputes the reverse dependency index from the
// forward edges of every registered skill and refreshes each entry's
// Dependents slice.
func (r *Registry) rebuildDependentsLocked() {
	r.dependents = make(map[string]idSet, len(r.entries))
	for id, entry := range r.entries {
		for _, dep := range entry.Skill.Dependencies {
			if dep == id {
				continue
			}
			if _, ok := r.entries[dep]; !ok {
				continue
			}
			set, ok := r.dependents[dep]
			if !ok {
				set = make(idSet)
				r.dependents[dep] = set
			}
			set[id] = struct{}{}
		}
	}

	for id, entry := range r.entries {
		if set, ok := r.dependents[id]; ok {
			entry.Dependents = set.sorted()
		} else {
			entry.Dependents = nil
		}
	}
}

// Unregister removes the skill with id. It returns false without error for
// unknown ids and a *DependencyError when other skills still depend on it.
func (r *Registry) Unregister(id string) (bool, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}

	if deps := r.dependents[id]; len(deps) > 0 {
		err := &DependencyError{SkillID: id, Path: entry.FilePath, Dependents: deps.sorted()}
		r.mu.Unlock()
		return false, err
	}

	r.removeIndicesLocked(entry)
	delete(r.entries, id)
	r.rebuildDependentsLocked()
	removed := entry.Clone()
	r.mu.Unlock()

	ev := events.New(events.TypeSkillUnregistered)
	ev.SkillID = id
	ev.Path = removed.FilePath
	ev.Entry = removed
	r.bus.Emit(ev)

	return true, nil
}

// UnregisterByPath removes the skill registered from filePath
func (r *Registry) UnregisterByPath(filePath string) (bool, error) {
	r.mu.RLock()
	id, ok := r.byPath[filePath]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return r.Unregister(id)
}

// Enable marks the skill as enabled
func (r *Registry) Enable(id string) error {
	return r.setEnabled(id, func(bool) bool { return true })
}

// Disable marks the skill as disabled. Disabled skills are skipped by
// trigger lookups.
func (r *Registry) Disable(id string) error {
	return r.setEnabled(id, func(bool) bool { return false })
}

// Toggle flips the enabled state of the skill and returns the new state
func (r *Registry) Toggle(id string) (bool, error) {
	var state bool
	err := r.setEnabled(id, func(current bool) bool {
		state = !current
		return state
	})
	return state, err
}

func (r *Registry) setEnabled(id string, next func(bool) bool) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "skill '%s'", id)
	}

	enabled := next(entry.Enabled)
	changed := enabled != entry.Enabled
	entry.Enabled = enabled
	if changed {
		entry.ModifiedAt = r.now()
	}
	snapshot := entry.Clone()
	r.mu.Unlock()

	if !changed {
		return nil
	}

	t := events.TypeSkillDisabled
	if enabled {
		t = events.TypeSkillEnabled
	}
	ev := events.New(t)
	ev.SkillID = id
	ev.Path = snapshot.FilePath
	ev.Entry = snapshot
	r.bus.Emit(ev)
	return nil
}

// Clear removes every entry and index. It is used for teardown and tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	count := len(r.entries)
	r.reset()
	r.mu.Unlock()

	logger.G(context.Background()).WithField("count", count).Debug("registry cleared")
	r.bus.Emit(events.New(events.TypeRegistryCleared))
}

// estimateTokens approximates the prompt cost of a skill at four characters
// per token
func estimateTokens(skill *skills.Skill) int {
	chars := utf8.RuneCountInString(skill.Template) +
		utf8.RuneCountInString(skill.Metadata.Name.EN) +
		utf8.RuneCountInString(skill.Metadata.Name.ZH) +
		utf8.RuneCountInString(skill.Metadata.Description.EN) +
		utf8.RuneCountInString(skill.Metadata.Description.ZH)
	return (chars + 3) / 4
}

func checksum(skill *skills.Skill) string {
	hash, err := hashstructure.Hash(skill, hashstructure.FormatV2, nil)
	if err != nil {
		logger.G(context.Background()).WithError(err).WithField("skill", skill.ID).Warn("failed to hash skill")
		return ""
	}
	return fmt.Sprintf("%016x", hash)
}
