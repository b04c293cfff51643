package skills

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillreg/pkg/logger"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

// skillGlob selects every candidate document below a root
const skillGlob = "**/*.{md,json,yaml,yml}"

// Root is a directory the loader scans, with the source attributed to the
// skills found below it
type Root struct {
	Dir    string
	Source skilltypes.Source
}

// Loader enumerates skill files from configured directories
type Loader struct {
	roots          []Root
	ignorePatterns []string
	ignore         *IgnoreMatcher
}

// Option is a function that configures a Loader
type Option func(*Loader) error

// WithSkillDirs sets custom user skill directories
func WithSkillDirs(dirs ...string) Option {
	return func(l *Loader) error {
		l.roots = removeSource(l.roots, skilltypes.SourceUser)
		for _, dir := range dirs {
			l.roots = append(l.roots, Root{Dir: dir, Source: skilltypes.SourceUser})
		}
		return nil
	}
}

// WithBuiltinDirs adds directories whose skills are attributed to the
// builtin source
func WithBuiltinDirs(dirs ...string) Option {
	return func(l *Loader) error {
		for _, dir := range dirs {
			l.roots = append(l.roots, Root{Dir: dir, Source: skilltypes.SourceBuiltin})
		}
		return nil
	}
}

// WithDefaultDirs initializes with the default skill directories
func WithDefaultDirs() Option {
	return func(l *Loader) error {
		project, home, err := DefaultDirs()
		if err != nil {
			return err
		}
		l.roots = append(l.roots,
			Root{Dir: project, Source: skilltypes.SourceUser}, // Repo-local (highest precedence)
			Root{Dir: home, Source: skilltypes.SourceUser},
		)

		homeDir, _ := os.UserHomeDir()
		l.addPluginDirs("./.skillreg/plugins")
		l.addPluginDirs(filepath.Join(homeDir, ".skillreg", "plugins"))
		return nil
	}
}

// WithIgnorePatterns layers extra ignore patterns over DefaultIgnorePatterns
func WithIgnorePatterns(patterns ...string) Option {
	return func(l *Loader) error {
		l.ignorePatterns = append(l.ignorePatterns, patterns...)
		return nil
	}
}

// DefaultDirs returns the project-level and home-level skill directories
func DefaultDirs() (string, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(".", ".skillreg", "skills"), filepath.Join(homeDir, ".skillreg", "skills"), nil
}

// addPluginDirs adds the skills directory of every installed plugin as a
// marketplace root. Plugins live in nested org/repo directories.
func (l *Loader) addPluginDirs(pluginsDir string) {
	_ = filepath.WalkDir(pluginsDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		skillsDir := filepath.Join(p, skillsDirName)
		if info, err := os.Stat(skillsDir); err != nil || !info.IsDir() {
			return nil
		}

		l.roots = append(l.roots, Root{Dir: skillsDir, Source: skilltypes.SourceMarketplace})
		return filepath.SkipDir
	})
}

func removeSource(roots []Root, source skilltypes.Source) []Root {
	kept := roots[:0]
	for _, r := range roots {
		if r.Source != source {
			kept = append(kept, r)
		}
	}
	return kept
}

// NewLoader creates a new loader. Without options the default directories
// are used.
func NewLoader(opts ...Option) (*Loader, error) {
	l := &Loader{}

	if len(opts) == 0 {
		opts = []Option{WithDefaultDirs()}
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	ignore, err := NewIgnoreMatcher(l.ignorePatterns...)
	if err != nil {
		return nil, err
	}
	l.ignore = ignore

	return l, nil
}

// Roots returns the configured roots in precedence order
func (l *Loader) Roots() []Root {
	return append([]Root(nil), l.roots...)
}

// Dirs returns the configured root directories in precedence order
func (l *Loader) Dirs() []string {
	dirs := make([]string, 0, len(l.roots))
	for _, r := range l.roots {
		dirs = append(dirs, r.Dir)
	}
	return dirs
}

// Ignore returns the matcher applied during enumeration
func (l *Loader) Ignore() *IgnoreMatcher {
	return l.ignore
}

// SourceFor attributes path to the source of the most specific root that
// contains it, defaulting to user
func (l *Loader) SourceFor(p string) skilltypes.Source {
	abs, err := filepath.Abs(p)
	if err != nil {
		return skilltypes.SourceUser
	}

	source := skilltypes.SourceUser
	best := -1
	for _, r := range l.roots {
		dir, err := filepath.Abs(r.Dir)
		if err != nil {
			continue
		}
		if isWithin(dir, abs) && len(dir) > best {
			best = len(dir)
			source = r.Source
		}
	}
	return source
}

// Rank returns the precedence of path: the index of the most specific root
// containing it, or the number of roots when none does. Lower ranks win.
func (l *Loader) Rank(p string) int {
	abs, err := filepath.Abs(p)
	if err != nil {
		return len(l.roots)
	}

	rank := len(l.roots)
	best := -1
	for i, r := range l.roots {
		dir, err := filepath.Abs(r.Dir)
		if err != nil {
			continue
		}
		if isWithin(dir, abs) && len(dir) > best {
			best = len(dir)
			rank = i
		}
	}
	return rank
}

// EnumerateAll enumerates every configured root
func (l *Loader) EnumerateAll(ctx context.Context) ([]string, error) {
	return l.Enumerate(ctx, l.Dirs())
}

// Enumerate returns the absolute paths of skill files below paths. Each root
// contributes its files in lexical order and roots keep the given order.
// Missing roots are skipped; a path naming a file is returned when it
// classifies as a skill file.
func (l *Loader) Enumerate(ctx context.Context, paths []string) ([]string, error) {
	log := logger.G(ctx)
	seen := make(map[string]bool)
	var files []string

	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		abs, err := filepath.Abs(root)
		if err != nil {
			return files, errors.Wrapf(err, "failed to resolve %s", root)
		}

		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				log.WithField("dir", abs).Debug("skill directory does not exist, skipping")
				continue
			}
			return files, errors.Wrapf(err, "failed to stat %s", abs)
		}

		if !info.IsDir() {
			if IsSkillFile(abs) && !seen[abs] {
				seen[abs] = true
				files = append(files, abs)
			}
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(abs), skillGlob, doublestar.WithFilesOnly())
		if err != nil {
			return files, errors.Wrapf(err, "failed to scan %s", abs)
		}
		sort.Strings(matches)

		for _, rel := range matches {
			if l.ignore.Match(rel) {
				continue
			}
			full := filepath.Join(abs, filepath.FromSlash(rel))
			if !IsSkillFile(full) || seen[full] {
				continue
			}
			seen[full] = true
			files = append(files, full)
		}

		log.WithField("dir", abs).WithField("count", len(matches)).Debug("scanned skill directory")
	}

	return files, nil
}

func isWithin(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../") && !path.IsAbs(rel))
}
