package skills

import "time"

// Source records where a registered skill came from
type Source string

// Source constants
const (
	SourceBuiltin     Source = "builtin"
	SourceUser        Source = "user"
	SourceMarketplace Source = "marketplace"
	SourceMigrated    Source = "migrated"
)

// Valid reports whether s is a known source
func (s Source) Valid() bool {
	switch s {
	case SourceBuiltin, SourceUser, SourceMarketplace, SourceMigrated:
		return true
	default:
		return false
	}
}

// RegistryEntry wraps a Skill with the state the registry owns. Dependents is
// derived from the dependencies of other registered skills and is only ever
// written by the registry.
type RegistryEntry struct {
	Skill               *Skill    `json:"skill"`
	FilePath            string    `json:"filePath,omitempty"`
	Enabled             bool      `json:"enabled"`
	Source              Source    `json:"source"`
	OriginalVersion     string    `json:"originalVersion,omitempty"`
	RegisteredAt        time.Time `json:"registeredAt"`
	ModifiedAt          time.Time `json:"modifiedAt"`
	EstimatedTokenCount int       `json:"estimatedTokenCount"`
	Dependents          []string  `json:"dependents,omitempty"`
	Checksum            string    `json:"checksum"`
}

// ID is a shorthand for the wrapped skill's id
func (e *RegistryEntry) ID() string {
	if e == nil || e.Skill == nil {
		return ""
	}
	return e.Skill.ID
}

// Clone returns a deep copy, including the wrapped Skill
func (e *RegistryEntry) Clone() *RegistryEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Skill = e.Skill.Clone()
	c.Dependents = append([]string(nil), e.Dependents...)
	return &c
}
