package registry

import (
	"sort"

	"github.com/jingkaihe/skillreg/pkg/events"
)

// DependencyResolution is the outcome of ResolveDependencies. Order lists
// every orderable skill after its dependencies. Missing maps a skill id to
// the dependency ids that are not registered.
type DependencyResolution struct {
	Success  bool                `json:"success"`
	Order    []string            `json:"order"`
	Missing  map[string][]string `json:"missing"`
	Circular [][]string          `json:"circular"`
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	done
	blocked
)

// GetDependencies returns the declared dependencies of id
func (r *Registry) GetDependencies(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	return append([]string(nil), entry.Skill.Dependencies...)
}

// GetDependents returns the registered ids that depend on id
func (r *Registry) GetDependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependents[id].sorted()
}

// ResolveDependencies checks that every declared dependency is registered and
// computes a dependency-respecting order. Skills on a cycle, or depending on
// one, are left out of the order; the rest of the graph is still ordered.
// Missing and circular dependencies are also reported as dependency:error
// events.
func (r *Registry) ResolveDependencies() *DependencyResolution {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	graph := make(map[string][]string, len(r.entries))
	for id, entry := range r.entries {
		ids = append(ids, id)
		graph[id] = append([]string(nil), entry.Skill.Dependencies...)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	res := &DependencyResolution{
		Order:    make([]string, 0, len(ids)),
		Missing:  make(map[string][]string),
		Circular: make([][]string, 0),
	}

	for _, id := range ids {
		var missing []string
		for _, dep := range graph[id] {
			if _, ok := graph[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			res.Missing[id] = missing
		}
	}

	state := make(map[string]visitState, len(ids))
	var path []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case done:
			return true
		case blocked:
			return false
		case visiting:
			for i := len(path) - 1; i >= 0; i-- {
				if path[i] == id {
					res.Circular = append(res.Circular, append([]string(nil), path[i:]...))
					break
				}
			}
			return false
		}

		state[id] = visiting
		path = append(path, id)

		ok := true
		for _, dep := range graph[id] {
			if _, registered := graph[dep]; !registered || dep == id {
				continue
			}
			if !visit(dep) {
				ok = false
			}
		}

		path = path[:len(path)-1]
		if !ok {
			state[id] = blocked
			return false
		}
		state[id] = done
		res.Order = append(res.Order, id)
		return true
	}

	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}

	res.Success = len(res.Missing) == 0 && len(res.Circular) == 0
	r.emitDependencyErrors(res)
	return res
}

func (r *Registry) emitDependencyErrors(res *DependencyResolution) {
	ids := make([]string, 0, len(res.Missing))
	for id := range res.Missing {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ev := events.New(events.TypeDependencyError)
		ev.SkillID = id
		ev.Missing = res.Missing[id]
		ev.Err = &DependencyError{SkillID: id, Missing: res.Missing[id]}
		if entry, ok := r.Get(id); ok {
			ev.Path = entry.FilePath
		}
		r.bus.Emit(ev)
	}

	if len(res.Circular) > 0 {
		ev := events.New(events.TypeDependencyError)
		ev.Circular = res.Circular
		ev.Err = &DependencyError{Circular: res.Circular}
		r.bus.Emit(ev)
	}
}
