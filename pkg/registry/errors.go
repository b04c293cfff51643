package registry

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillreg/pkg/events"
)

var (
	// ErrInvalidSkill is returned when a nil skill or a skill without id is registered
	ErrInvalidSkill = errors.New("skill must have an id")
	// ErrNotFound is returned when an operation names an unknown skill
	ErrNotFound = errors.New("skill not found")
)

// DependencyError reports a dependency integrity problem: an unregister
// blocked by dependents, or missing/circular dependencies found while
// resolving the graph.
type DependencyError struct {
	SkillID    string
	Path       string
	Dependents []string
	Missing    []string
	Circular   [][]string
}

func (e *DependencyError) Error() string {
	switch {
	case len(e.Dependents) > 0:
		return fmt.Sprintf("cannot unregister skill '%s': required by %s", e.SkillID, strings.Join(e.Dependents, ", "))
	case len(e.Missing) > 0:
		return fmt.Sprintf("skill '%s' has missing dependencies: %s", e.SkillID, strings.Join(e.Missing, ", "))
	case len(e.Circular) > 0:
		cycles := make([]string, 0, len(e.Circular))
		for _, cycle := range e.Circular {
			cycles = append(cycles, strings.Join(cycle, " -> "))
		}
		return fmt.Sprintf("circular dependencies detected: %s", strings.Join(cycles, "; "))
	default:
		return fmt.Sprintf("dependency error for skill '%s'", e.SkillID)
	}
}

// ConflictError wraps the trigger conflicts found for a skill. Conflicts are
// informational and never block registration.
type ConflictError struct {
	SkillID   string
	Conflicts []events.Conflict
}

func (e *ConflictError) Error() string {
	triggers := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		triggers = append(triggers, c.Trigger)
	}
	return fmt.Sprintf("skill '%s' shares triggers with other skills: %s", e.SkillID, strings.Join(triggers, ", "))
}

// IsDependencyError reports whether err is or wraps a DependencyError
func IsDependencyError(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}
