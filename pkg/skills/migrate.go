package skills

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillreg/pkg/logger"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

// legacySkill is the flat format-version 1 document shape
type legacySkill struct {
	Name          string   `mapstructure:"name"`
	NameZH        string   `mapstructure:"name_zh"`
	Description   string   `mapstructure:"description"`
	DescriptionZH string   `mapstructure:"description_zh"`
	Version       string   `mapstructure:"version"`
	Category      string   `mapstructure:"category"`
	Tags          []string `mapstructure:"tags"`
	Triggers      []string `mapstructure:"triggers"`
	Priority      int      `mapstructure:"priority"`
	Dependencies  []string `mapstructure:"dependencies"`
	Author        string   `mapstructure:"author"`
	Prompt        string   `mapstructure:"prompt"`
	Template      string   `mapstructure:"template"`
}

// legacyCategories maps the free-form v1 categories onto the closed set
var legacyCategories = map[string]skilltypes.Category{
	"dev":    skilltypes.CategoryDevelopment,
	"coding": skilltypes.CategoryDevelopment,
	"test":   skilltypes.CategoryTesting,
	"tests":  skilltypes.CategoryTesting,
	"qa":     skilltypes.CategoryTesting,
	"docs":   skilltypes.CategoryDocumentation,
	"doc":    skilltypes.CategoryDocumentation,
	"ops":    skilltypes.CategoryDevOps,
	"ci":     skilltypes.CategoryDevOps,
	"debug":  skilltypes.CategoryDebugging,
	"plan":   skilltypes.CategoryPlanning,
	"vcs":    skilltypes.CategoryGit,
}

// MigrationResult is the outcome of converting a document to the current format
type MigrationResult struct {
	Success     bool
	Skill       *skilltypes.Skill
	FromVersion string
	Error       error
}

// Migrator converts legacy skill documents into canonical skills
type Migrator struct {
	parser *Parser
}

// NewMigrator creates a migrator. Documents that are already current are
// handed to parser unchanged.
func NewMigrator(parser *Parser) *Migrator {
	if parser == nil {
		parser = NewParser()
	}
	return &Migrator{parser: parser}
}

// MigrateFile reads and migrates the document at path
func (m *Migrator) MigrateFile(ctx context.Context, path string) *MigrationResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return &MigrationResult{Error: errors.Wrapf(err, "failed to read %s", path)}
	}

	result := m.MigrateBytes(data, path)
	log := logger.G(ctx).WithField("path", path)
	if result.Success {
		log.WithField("from_version", result.FromVersion).Debug("migrated skill file")
	} else {
		log.WithError(result.Error).Debug("failed to migrate skill file")
	}
	return result
}

// MigrateBytes migrates data, choosing the format from the extension of path
func (m *Migrator) MigrateBytes(data []byte, path string) *MigrationResult {
	raw, body, err := decodeDocument(data, path)
	if err != nil {
		return &MigrationResult{Error: &ParseError{Path: path, Message: err.Error(), Err: err}}
	}

	version := DetectFormatVersion(raw)
	switch version {
	case skilltypes.FormatVersionCurrent:
		parsed := m.parser.ParseBytes(data, path)
		if !parsed.Success {
			return &MigrationResult{FromVersion: version, Error: parsed.Error}
		}
		return &MigrationResult{Success: true, Skill: parsed.Skill, FromVersion: version}
	case skilltypes.FormatVersionLegacy:
	default:
		return &MigrationResult{
			FromVersion: version,
			Error:       errors.Errorf("%s: no migration from format version '%s'", path, version),
		}
	}

	var legacy legacySkill
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &legacy,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return &MigrationResult{FromVersion: version, Error: errors.Wrap(err, "failed to create decoder")}
	}
	if err := decoder.Decode(raw); err != nil {
		return &MigrationResult{
			FromVersion: version,
			Error:       &ParseError{Path: path, Message: fmt.Sprintf("invalid legacy document: %v", err), FormatVersion: version, Err: err},
		}
	}

	skill := convertLegacy(&legacy, body)
	if err := Validate(skill); err != nil {
		return &MigrationResult{
			FromVersion: version,
			Error:       &ParseError{Path: path, Message: fmt.Sprintf("migrated skill is invalid: %v", err), FormatVersion: version, Err: err},
		}
	}

	return &MigrationResult{Success: true, Skill: skill, FromVersion: version}
}

func convertLegacy(legacy *legacySkill, body string) *skilltypes.Skill {
	id := kebabCase(legacy.Name)

	version := strings.TrimSpace(legacy.Version)
	if version == "" {
		version = "1.0.0"
	}

	template := legacy.Prompt
	if template == "" {
		template = legacy.Template
	}
	if strings.TrimSpace(body) != "" {
		template = body
	}

	triggers := legacy.Triggers
	if len(triggers) == 0 && id != "" {
		triggers = []string{"/" + id}
	}

	return &skilltypes.Skill{
		ID:      id,
		Version: version,
		Metadata: skilltypes.Metadata{
			Name:        skilltypes.LocalizedText{EN: legacy.Name, ZH: firstNonEmpty(legacy.NameZH, legacy.Name)},
			Description: skilltypes.LocalizedText{EN: legacy.Description, ZH: firstNonEmpty(legacy.DescriptionZH, legacy.Description)},
			Category:    mapLegacyCategory(legacy.Category),
			Tags:        legacy.Tags,
			Author:      legacy.Author,
			Priority:    legacy.Priority,
		},
		Triggers:     triggers,
		Template:     template,
		Dependencies: legacy.Dependencies,
	}
}

func mapLegacyCategory(category string) skilltypes.Category {
	normalized := strings.ToLower(strings.TrimSpace(category))
	if c := skilltypes.Category(normalized); c.Valid() {
		return c
	}
	if c, ok := legacyCategories[normalized]; ok {
		return c
	}
	return skilltypes.CategoryCustom
}

// kebabCase lower-cases s and collapses every run of non alphanumerics to "-"
func kebabCase(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
