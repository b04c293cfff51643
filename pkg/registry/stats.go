package registry

import (
	"time"

	"github.com/jingkaihe/skillreg/pkg/types/skills"
)

// Stats aggregates the registry contents
type Stats struct {
	Total                  int                     `json:"total"`
	Enabled                int                     `json:"enabled"`
	Disabled               int                     `json:"disabled"`
	ByCategory             map[skills.Category]int `json:"byCategory"`
	BySource               map[skills.Source]int   `json:"bySource"`
	TotalTokens            int                     `json:"totalTokens"`
	MostRecentlyRegistered string                  `json:"mostRecentlyRegistered,omitempty"`
	MostRecentlyModified   string                  `json:"mostRecentlyModified,omitempty"`
}

// GetStats computes statistics with a single pass over the entries
func (r *Registry) GetStats() *Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &Stats{
		ByCategory: make(map[skills.Category]int),
		BySource:   make(map[skills.Source]int),
	}

	var newest, latest *skills.RegistryEntry
	for _, entry := range r.entries {
		stats.Total++
		if entry.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByCategory[entry.Skill.Metadata.Category]++
		stats.BySource[entry.Source]++
		stats.TotalTokens += entry.EstimatedTokenCount

		if newest == nil || laterOf(entry.RegisteredAt, newest.RegisteredAt, entry.ID(), newest.ID()) {
			newest = entry
		}
		if latest == nil || laterOf(entry.ModifiedAt, latest.ModifiedAt, entry.ID(), latest.ID()) {
			latest = entry
		}
	}

	if newest != nil {
		stats.MostRecentlyRegistered = newest.ID()
	}
	if latest != nil {
		stats.MostRecentlyModified = latest.ID()
	}
	return stats
}

// laterOf reports whether a should replace b as the most recent; equal times
// are broken by id so the result does not depend on map order
func laterOf(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA > idB
}
