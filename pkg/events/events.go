// Package events provides the typed, in-process event stream shared by the
// skill registry and the hot-reload manager.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/types/skills"
)

// Type identifies an event
type Type string

// Hot-reload event types
const (
	TypeAdd    Type = "add"
	TypeChange Type = "change"
	TypeUnlink Type = "unlink"
	TypeError  Type = "error"
	TypeReady  Type = "ready"
)

// Registry event types
const (
	TypeSkillRegistered   Type = "skill:registered"
	TypeSkillUpdated      Type = "skill:updated"
	TypeSkillUnregistered Type = "skill:unregistered"
	TypeSkillEnabled      Type = "skill:enabled"
	TypeSkillDisabled     Type = "skill:disabled"
	TypeConflictDetected  Type = "conflict:detected"
	TypeDependencyError   Type = "dependency:error"
	TypeRegistryCleared   Type = "registry:cleared"
)

// AllTypes returns every event type, hot-reload types first
func AllTypes() []Type {
	return []Type{
		TypeAdd, TypeChange, TypeUnlink, TypeError, TypeReady,
		TypeSkillRegistered, TypeSkillUpdated, TypeSkillUnregistered,
		TypeSkillEnabled, TypeSkillDisabled, TypeConflictDetected,
		TypeDependencyError, TypeRegistryCleared,
	}
}

// Valid reports whether t is a known event type
func (t Type) Valid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Conflict describes a set of skills claiming the same trigger
type Conflict struct {
	Type       string   `json:"type"`
	Trigger    string   `json:"trigger"`
	SkillIDs   []string `json:"skillIds"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion"`
}

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	ID        string                `json:"id"`
	Type      Type                  `json:"type"`
	Time      time.Time             `json:"time"`
	Path      string                `json:"path,omitempty"`
	SkillID   string                `json:"skillId,omitempty"`
	Entry     *skills.RegistryEntry `json:"entry,omitempty"`
	OldEntry  *skills.RegistryEntry `json:"oldEntry,omitempty"`
	Skill     *skills.Skill         `json:"skill,omitempty"`
	Conflicts []Conflict            `json:"conflicts,omitempty"`
	Missing   []string              `json:"missing,omitempty"`
	Circular  [][]string            `json:"circular,omitempty"`
	Err       error                 `json:"-"`
}

// New creates an event of the given type stamped with an id and time
func New(t Type) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		Time: time.Now(),
	}
}

// Handler receives events
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
	types   map[Type]bool
}

func (s *subscription) wants(t Type) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus fans events out to subscribers. Handlers run synchronously in the
// emitting goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler for the given types, or for every type when
// none are given. The returned function removes the subscription.
func (b *Bus) Subscribe(handler Handler, types ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || handler == nil {
		return func() {}
	}

	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subs = append(b.subs, sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers e to every matching subscriber
func (b *Bus) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(e.Type) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		deliver(sub.handler, e)
	}
}

func deliver(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.G(context.Background()).WithFields(map[string]interface{}{
				"event": e.Type,
				"panic": r,
			}).Error("event handler panicked")
		}
	}()
	handler(e)
}

// Len returns the number of active subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber. Events emitted afterwards are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.closed = true
}
