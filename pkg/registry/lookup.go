package registry

import (
	"sort"
	"strings"

	"github.com/jingkaihe/skillreg/pkg/types/skills"
)

// SortField selects the ordering applied by Lookup
type SortField string

// SortField constants
const (
	SortByName         SortField = "name"
	SortByPriority     SortField = "priority"
	SortByRegisteredAt SortField = "registeredAt"
	SortByModifiedAt   SortField = "modifiedAt"
)

// SortOrder is ascending or descending
type SortOrder string

// SortOrder constants
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filter narrows a Lookup. Zero values match everything.
type Filter struct {
	Enabled   *bool
	Category  skills.Category
	Source    skills.Source
	Tags      []string // any-of
	Search    string   // case-insensitive, id/name/description/tags/triggers in both locales
	SortBy    SortField
	SortOrder SortOrder
	Limit     int
}

// Get returns the entry for id
func (r *Registry) Get(id string) (*skills.RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Count returns the number of registered skills
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetByPath returns the entry registered from filePath
func (r *Registry) GetByPath(filePath string) (*skills.RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPath[filePath]
	if !ok {
		return nil, false
	}
	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// GetByTrigger returns the enabled skills claiming trigger, highest priority
// first. Ties are broken by id so the winner is deterministic.
func (r *Registry) GetByTrigger(trigger string) []*skills.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byTrigger[skills.NormalizeTrigger(trigger)]
	result := make([]*skills.RegistryEntry, 0, len(set))
	for id := range set {
		entry, ok := r.entries[id]
		if !ok || !entry.Enabled {
			continue
		}
		result = append(result, entry.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		pi, pj := result[i].Skill.EffectivePriority(), result[j].Skill.EffectivePriority()
		if pi != pj {
			return pi > pj
		}
		return result[i].Skill.ID < result[j].Skill.ID
	})
	return result
}

// GetByCategory returns every skill in category ordered by id
func (r *Registry) GetByCategory(category skills.Category) []*skills.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byCategory[category]
	result := make([]*skills.RegistryEntry, 0, len(set))
	for _, id := range set.sorted() {
		result = append(result, r.entries[id].Clone())
	}
	return result
}

// Triggers returns every indexed trigger key in lexical order
func (r *Registry) Triggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byTrigger))
	for key := range r.byTrigger {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// All returns every entry ordered by id
func (r *Registry) All() []*skills.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLocked()
}

func (r *Registry) allLocked() []*skills.RegistryEntry {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]*skills.RegistryEntry, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.entries[id].Clone())
	}
	return result
}

// Lookup returns the entries matching filter
func (r *Registry) Lookup(filter Filter) []*skills.RegistryEntry {
	r.mu.RLock()
	all := r.allLocked()
	r.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]*skills.RegistryEntry, 0, len(all))
	for _, entry := range all {
		if filter.Enabled != nil && entry.Enabled != *filter.Enabled {
			continue
		}
		if filter.Category != "" && entry.Skill.Metadata.Category != filter.Category {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(entry.Skill, filter.Tags) {
			continue
		}
		if search != "" && !matchesSearch(entry.Skill, search) {
			continue
		}
		result = append(result, entry)
	}

	if filter.SortBy != "" {
		sortEntries(result, filter.SortBy, filter.SortOrder == SortDesc)
	}

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func hasAnyTag(skill *skills.Skill, tags []string) bool {
	for _, want := range tags {
		for _, have := range skill.Metadata.Tags {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

func matchesSearch(skill *skills.Skill, needle string) bool {
	haystack := []string{
		skill.ID,
		skill.Metadata.Name.EN,
		skill.Metadata.Name.ZH,
		skill.Metadata.Description.EN,
		skill.Metadata.Description.ZH,
	}
	haystack = append(haystack, skill.Metadata.Tags...)
	haystack = append(haystack, skill.Triggers...)

	for _, s := range haystack {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

func sortEntries(entries []*skills.RegistryEntry, field SortField, desc bool) {
	less := func(a, b *skills.RegistryEntry) bool {
		switch field {
		case SortByPriority:
			return a.Skill.EffectivePriority() < b.Skill.EffectivePriority()
		case SortByRegisteredAt:
			return a.RegisteredAt.Before(b.RegisteredAt)
		case SortByModifiedAt:
			return a.ModifiedAt.Before(b.ModifiedAt)
		default:
			return strings.ToLower(a.Skill.Metadata.Name.EN) < strings.ToLower(b.Skill.Metadata.Name.EN)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}
