// Package skills defines the canonical skill record shared by the registry,
// the hot-reload manager and the parser/migrator collaborators.
package skills

import "strings"

// Format versions understood by the parser and migrator.
const (
	FormatVersionLegacy  = "1"
	FormatVersionCurrent = "2"
)

// Locale keys required on every localized field.
const (
	LocaleEN = "en"
	LocaleZH = "zh-CN"
)

// DefaultPriority is used for ordering when a skill leaves priority unset.
const DefaultPriority = 5

// Category is the closed set of skill categories
type Category string

// Category constants
const (
	CategoryGit           Category = "git"
	CategoryDevelopment   Category = "development"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
	CategoryReview        Category = "review"
	CategoryDevOps        Category = "devops"
	CategoryPlanning      Category = "planning"
	CategoryDebugging     Category = "debugging"
	CategorySEO           Category = "seo"
	CategoryCustom        Category = "custom"
)

// Categories lists every valid category in display order
var Categories = []Category{
	CategoryGit,
	CategoryDevelopment,
	CategoryTesting,
	CategoryDocumentation,
	CategoryReview,
	CategoryDevOps,
	CategoryPlanning,
	CategoryDebugging,
	CategorySEO,
	CategoryCustom,
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Difficulty is an optional hint about how demanding a skill is
type Difficulty string

// Difficulty constants
const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is empty or a known difficulty
func (d Difficulty) Valid() bool {
	switch d {
	case "", DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	default:
		return false
	}
}

// ContextMode controls whether a skill runs in a forked or inherited context
type ContextMode string

// ContextMode constants
const (
	ContextModeFork    ContextMode = "fork"
	ContextModeInherit ContextMode = "inherit"
)

// HookType is the lifecycle point a skill hook attaches to
type HookType string

// HookType constants mirror the agent lifecycle events
const (
	HookTypeBeforeToolCall  HookType = "before_tool_call"
	HookTypeAfterToolCall   HookType = "after_tool_call"
	HookTypeUserMessageSend HookType = "user_message_send"
	HookTypeAgentStop       HookType = "agent_stop"
)

// Valid reports whether h is a known hook type
func (h HookType) Valid() bool {
	switch h {
	case HookTypeBeforeToolCall, HookTypeAfterToolCall, HookTypeUserMessageSend, HookTypeAgentStop:
		return true
	default:
		return false
	}
}

// OutputType is the kind of artifact a skill declares it produces
type OutputType string

// OutputType constants
const (
	OutputTypeFile OutputType = "file"
	OutputTypeText OutputType = "text"
	OutputTypeJSON OutputType = "json"
)

// LocalizedText carries a string in both required locales
type LocalizedText struct {
	EN string `json:"en" yaml:"en" mapstructure:"en"`
	ZH string `json:"zh-CN" yaml:"zh-CN" mapstructure:"zh-CN"`
}

// Get returns the text for locale, falling back to English
func (t LocalizedText) Get(locale string) string {
	if locale == LocaleZH && t.ZH != "" {
		return t.ZH
	}
	return t.EN
}

// Metadata describes a skill for humans and for trigger selection
type Metadata struct {
	Name          LocalizedText `json:"name" yaml:"name" mapstructure:"name"`
	Description   LocalizedText `json:"description" yaml:"description" mapstructure:"description"`
	Category      Category      `json:"category" yaml:"category" mapstructure:"category"`
	Tags          []string      `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
	Author        string        `json:"author,omitempty" yaml:"author,omitempty" mapstructure:"author"`
	Difficulty    Difficulty    `json:"difficulty,omitempty" yaml:"difficulty,omitempty" mapstructure:"difficulty"`
	Priority      int           `json:"priority,omitempty" yaml:"priority,omitempty" mapstructure:"priority"`
	UseWhen       string        `json:"useWhen,omitempty" yaml:"useWhen,omitempty" mapstructure:"useWhen"`
	AutoActivate  bool          `json:"autoActivate,omitempty" yaml:"autoActivate,omitempty" mapstructure:"autoActivate"`
	UserInvocable bool          `json:"userInvocable,omitempty" yaml:"userInvocable,omitempty" mapstructure:"userInvocable"`
	RelatedSkills []string      `json:"relatedSkills,omitempty" yaml:"relatedSkills,omitempty" mapstructure:"relatedSkills"`
	MinVersion    string        `json:"minVersion,omitempty" yaml:"minVersion,omitempty" mapstructure:"minVersion"`
}

// Hook is a lifecycle command attached to a skill
type Hook struct {
	Type           HookType `json:"type" yaml:"type" mapstructure:"type"`
	Command        string   `json:"command" yaml:"command" mapstructure:"command"`
	Matcher        string   `json:"matcher,omitempty" yaml:"matcher,omitempty" mapstructure:"matcher"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" mapstructure:"timeoutSeconds"`
}

// Output declares an artifact produced by running a skill
type Output struct {
	Name        string     `json:"name" yaml:"name" mapstructure:"name"`
	Type        OutputType `json:"type" yaml:"type" mapstructure:"type"`
	Path        string     `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// Config is the optional execution configuration of a skill
type Config struct {
	AllowedTools   []string       `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty" mapstructure:"allowedTools"`
	Permissions    []string       `json:"permissions,omitempty" yaml:"permissions,omitempty" mapstructure:"permissions"`
	TimeoutSeconds int            `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty" mapstructure:"timeoutSeconds"`
	AgentIDs       []string       `json:"agentIds,omitempty" yaml:"agentIds,omitempty" mapstructure:"agentIds"`
	ContextMode    ContextMode    `json:"contextMode,omitempty" yaml:"contextMode,omitempty" mapstructure:"contextMode"`
	Hooks          []Hook         `json:"hooks,omitempty" yaml:"hooks,omitempty" mapstructure:"hooks"`
	Outputs        []Output       `json:"outputs,omitempty" yaml:"outputs,omitempty" mapstructure:"outputs"`
	Custom         map[string]any `json:"custom,omitempty" yaml:"custom,omitempty" mapstructure:"custom"`
}

// Skill is the canonical, parsed skill document. It is treated as immutable
// once produced by the parser or migrator.
type Skill struct {
	ID           string   `json:"id" yaml:"id" mapstructure:"id"`
	Version      string   `json:"version" yaml:"version" mapstructure:"version"`
	Metadata     Metadata `json:"metadata" yaml:"metadata" mapstructure:"metadata"`
	Triggers     []string `json:"triggers" yaml:"triggers" mapstructure:"triggers"`
	Template     string   `json:"template" yaml:"template" mapstructure:"template"`
	Config       *Config  `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" mapstructure:"dependencies"`
}

// EffectivePriority returns the metadata priority or DefaultPriority when unset
func (s *Skill) EffectivePriority() int {
	if s.Metadata.Priority <= 0 {
		return DefaultPriority
	}
	return s.Metadata.Priority
}

// NormalizeTrigger returns the index key used for a trigger string
func NormalizeTrigger(trigger string) string {
	return strings.ToLower(strings.TrimSpace(trigger))
}

// TriggerKeys returns the de-duplicated, normalized trigger keys of the skill
// in declaration order
func (s *Skill) TriggerKeys() []string {
	seen := make(map[string]bool, len(s.Triggers))
	keys := make([]string, 0, len(s.Triggers))
	for _, trigger := range s.Triggers {
		key := NormalizeTrigger(trigger)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// Clone returns a deep copy of the skill's slices and config
func (s *Skill) Clone() *Skill {
	if s == nil {
		return nil
	}
	c := *s
	c.Triggers = append([]string(nil), s.Triggers...)
	c.Dependencies = append([]string(nil), s.Dependencies...)
	c.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	c.Metadata.RelatedSkills = append([]string(nil), s.Metadata.RelatedSkills...)
	if s.Config != nil {
		cfg := *s.Config
		cfg.AllowedTools = append([]string(nil), s.Config.AllowedTools...)
		cfg.Permissions = append([]string(nil), s.Config.Permissions...)
		cfg.AgentIDs = append([]string(nil), s.Config.AgentIDs...)
		cfg.Hooks = append([]Hook(nil), s.Config.Hooks...)
		cfg.Outputs = append([]Output(nil), s.Config.Outputs...)
		if s.Config.Custom != nil {
			cfg.Custom = make(map[string]any, len(s.Config.Custom))
			for k, v := range s.Config.Custom {
				cfg.Custom[k] = v
			}
		}
		c.Config = &cfg
	}
	return &c
}
