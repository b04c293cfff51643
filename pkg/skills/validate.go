package skills

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// IsValidID reports whether id is lower-case kebab-case
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// IsValidVersion reports whether v is a semantic version, with or without a
// leading "v"
func IsValidVersion(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false
	}
	// semver accepts "v1" and "v1.2" shorthands; skill versions must be full
	core := v
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core = v[:i]
	}
	return strings.Count(core, ".") == 2
}

func joinErrors(es []error) string {
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a canonical skill and returns every problem found
func Validate(skill *skilltypes.Skill) error {
	if skill == nil {
		return errors.New("skill is nil")
	}

	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch {
	case skill.ID == "":
		add("id is required")
	case !IsValidID(skill.ID):
		add("id '%s' must be kebab-case", skill.ID)
	}

	if !IsValidVersion(skill.Version) {
		add("version '%s' is not a semantic version", skill.Version)
	}

	m := skill.Metadata
	if strings.TrimSpace(m.Name.EN) == "" {
		add("metadata.name.en is required")
	}
	if strings.TrimSpace(m.Name.ZH) == "" {
		add("metadata.name.zh-CN is required")
	}
	if strings.TrimSpace(m.Description.EN) == "" {
		add("metadata.description.en is required")
	}
	if strings.TrimSpace(m.Description.ZH) == "" {
		add("metadata.description.zh-CN is required")
	}
	if !m.Category.Valid() {
		add("metadata.category '%s' is not one of %v", m.Category, skilltypes.Categories)
	}
	if !m.Difficulty.Valid() {
		add("metadata.difficulty '%s' is invalid", m.Difficulty)
	}
	if m.Priority < 0 || m.Priority > 10 {
		add("metadata.priority %d must be between 0 and 10", m.Priority)
	}
	if m.MinVersion != "" && !IsValidVersion(m.MinVersion) {
		add("metadata.minVersion '%s' is not a semantic version", m.MinVersion)
	}

	if len(skill.Triggers) == 0 {
		add("at least one trigger is required")
	}
	for i, trigger := range skill.Triggers {
		if strings.TrimSpace(trigger) == "" {
			add("triggers[%d] is empty", i)
		}
	}

	seen := make(map[string]bool, len(skill.Dependencies))
	for _, dep := range skill.Dependencies {
		switch {
		case dep == skill.ID:
			add("skill cannot depend on itself")
		case !IsValidID(dep):
			add("dependency '%s' must be kebab-case", dep)
		case seen[dep]:
			add("dependency '%s' is listed twice", dep)
		}
		seen[dep] = true
	}

	if skill.Config != nil {
		validateConfig(skill.Config, add)
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinErrors
	return result
}

func validateConfig(cfg *skilltypes.Config, add func(string, ...interface{})) {
	if cfg.TimeoutSeconds < 0 {
		add("config.timeoutSeconds must not be negative")
	}
	switch cfg.ContextMode {
	case "", skilltypes.ContextModeFork, skilltypes.ContextModeInherit:
	default:
		add("config.contextMode '%s' is invalid", cfg.ContextMode)
	}
	for i, hook := range cfg.Hooks {
		if !hook.Type.Valid() {
			add("config.hooks[%d].type '%s' is invalid", i, hook.Type)
		}
		if strings.TrimSpace(hook.Command) == "" {
			add("config.hooks[%d].command is required", i)
		}
	}
	for i, out := range cfg.Outputs {
		if strings.TrimSpace(out.Name) == "" {
			add("config.outputs[%d].name is required", i)
		}
		switch out.Type {
		case skilltypes.OutputTypeFile, skilltypes.OutputTypeText, skilltypes.OutputTypeJSON:
		default:
			add("config.outputs[%d].type '%s' is invalid", i, out.Type)
		}
	}
}
