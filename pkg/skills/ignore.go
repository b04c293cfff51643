package skills

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// DefaultIgnorePatterns keep version control, build output, hidden entries
// and editor backups out of scans and watches. Patterns are matched against
// the slash-separated path relative to the scanned root, with a leading "/".
var DefaultIgnorePatterns = []string{
	"**/.git",
	"**/.git/**",
	"**/.svn/**",
	"**/.hg/**",
	"**/node_modules",
	"**/node_modules/**",
	"**/dist/**",
	"**/build/**",
	"**/vendor/**",
	"**/.*",
	"**/.*/**",
	"**~",
	"**.bak",
	"**.tmp",
	"**.swp",
	"**.swx",
}

// IgnoreMatcher decides whether a path below a root should be skipped
type IgnoreMatcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewIgnoreMatcher compiles the default patterns followed by extra
func NewIgnoreMatcher(extra ...string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for _, pattern := range append(append([]string{}, DefaultIgnorePatterns...), extra...) {
		if err := m.add(pattern); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *IgnoreMatcher) add(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}
	if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "**") {
		pattern = "**/" + pattern
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return errors.Wrapf(err, "invalid ignore pattern '%s'", pattern)
	}
	m.patterns = append(m.patterns, pattern)
	m.globs = append(m.globs, g)
	return nil
}

// Patterns returns the compiled patterns in match order
func (m *IgnoreMatcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether rel, a path relative to a scanned root, is ignored
func (m *IgnoreMatcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	for _, g := range m.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// MatchUnder reports whether path is ignored relative to root. Paths outside
// root are matched by their base name only.
func (m *IgnoreMatcher) MatchUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return m.Match(rel)
}
