package registry

import (
	"fmt"
	"sort"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/types/skills"
)

const (
	conflictTypeTrigger = "trigger"
	conflictSuggestion  = "use a unique trigger or adjust priority"
)

// DetectConflicts returns the trigger conflicts skill would have with the
// skills currently registered under other ids
func (r *Registry) DetectConflicts(skill *skills.Skill) []events.Conflict {
	if skill == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.detectConflictsLocked(skill)
}

func (r *Registry) detectConflictsLocked(skill *skills.Skill) []events.Conflict {
	var conflicts []events.Conflict
	for _, key := range skill.TriggerKeys() {
		others := make([]string, 0)
		for id := range r.byTrigger[key] {
			if id != skill.ID {
				others = append(others, id)
			}
		}
		if len(others) == 0 {
			continue
		}

		ids := append(others, skill.ID)
		sort.Strings(ids)
		conflicts = append(conflicts, newTriggerConflict(key, ids))
	}
	return conflicts
}

// GetAllConflicts scans the trigger index for triggers shared by more than
// one skill
func (r *Registry) GetAllConflicts() []events.Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byTrigger))
	for key, set := range r.byTrigger {
		if len(set) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	conflicts := make([]events.Conflict, 0, len(keys))
	for _, key := range keys {
		conflicts = append(conflicts, newTriggerConflict(key, r.byTrigger[key].sorted()))
	}
	return conflicts
}

func newTriggerConflict(trigger string, ids []string) events.Conflict {
	return events.Conflict{
		Type:       conflictTypeTrigger,
		Trigger:    trigger,
		SkillIDs:   ids,
		Message:    fmt.Sprintf("trigger '%s' is used by %d skills", trigger, len(ids)),
		Suggestion: conflictSuggestion,
	}
}
