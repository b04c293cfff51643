package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillreg/pkg/skills"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

// Format is a bundle serialization format
type Format string

// Format constants
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.Errorf("unsupported format '%s', must be one of: json, yaml", s)
	}
}

// FormatForPath picks the format from a file extension, defaulting to JSON
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ExportedSkill is a skill together with its registry state
type ExportedSkill struct {
	Skill    *skilltypes.Skill `json:"skill" yaml:"skill"`
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Source   skilltypes.Source `json:"source" yaml:"source"`
	FilePath string            `json:"filePath,omitempty" yaml:"filePath,omitempty"`
}

// Bundle is the export and import document
type Bundle struct {
	FormatVersion string          `json:"formatVersion" yaml:"formatVersion"`
	ExportedAt    time.Time       `json:"exportedAt" yaml:"exportedAt"`
	Skills        []ExportedSkill `json:"skills" yaml:"skills"`
}

// ImportReport lists the ids that were imported and why others were not
type ImportReport struct {
	Imported []string          `json:"imported"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Export snapshots every registered skill in id order
func (m *Manager) Export() *Bundle {
	entries := m.registry.All()
	bundle := &Bundle{
		FormatVersion: skilltypes.FormatVersionCurrent,
		ExportedAt:    time.Now().UTC(),
		Skills:        make([]ExportedSkill, 0, len(entries)),
	}
	for _, entry := range entries {
		bundle.Skills = append(bundle.Skills, ExportedSkill{
			Skill:    entry.Skill,
			Enabled:  entry.Enabled,
			Source:   entry.Source,
			FilePath: entry.FilePath,
		})
	}
	return bundle
}

// WriteExport encodes the current export to w
func (m *Manager) WriteExport(w io.Writer, format Format) error {
	return EncodeBundle(w, m.Export(), format)
}

// ExportToFile writes the export to path while holding a file lock, so
// concurrent exporters never interleave
func (m *Manager) ExportToFile(path string, format Format) error {
	var buf bytes.Buffer
	if err := m.WriteExport(&buf, format); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create export directory")
	}
	if err := lockedfile.Write(path, &buf, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write export to %s", path)
	}
	return nil
}

// EncodeBundle writes bundle to w in format
func EncodeBundle(w io.Writer, bundle *Bundle, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(bundle); err != nil {
			return errors.Wrap(err, "failed to encode bundle as YAML")
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(bundle), "failed to encode bundle as JSON")
	}
}

// DecodeBundle reads a bundle in format from r
func DecodeBundle(r io.Reader, format Format) (*Bundle, error) {
	bundle := &Bundle{}
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(bundle); err != nil {
			return nil, errors.Wrap(err, "failed to decode YAML bundle")
		}
	default:
		if err := json.NewDecoder(r).Decode(bundle); err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON bundle")
		}
	}

	if bundle.FormatVersion != "" && bundle.FormatVersion != skilltypes.FormatVersionCurrent {
		return nil, errors.Errorf("unsupported bundle format version '%s'", bundle.FormatVersion)
	}
	return bundle, nil
}

// ReadImport decodes a bundle from r and imports it
func (m *Manager) ReadImport(r io.Reader, format Format) (*ImportReport, error) {
	bundle, err := DecodeBundle(r, format)
	if err != nil {
		return nil, err
	}
	return m.Import(bundle), nil
}

// ImportFromFile reads a bundle from path under a file lock and imports it
func (m *Manager) ImportFromFile(path string) (*ImportReport, error) {
	data, err := lockedfile.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return m.ReadImport(bytes.NewReader(data), FormatForPath(path))
}

// Import registers every skill of bundle individually. A skill that fails
// validation or registration is recorded in the report and the rest of the
// bundle is still imported.
func (m *Manager) Import(bundle *Bundle) *ImportReport {
	report := &ImportReport{Failed: make(map[string]string)}
	if bundle == nil {
		return report
	}

	for i, item := range bundle.Skills {
		if item.Skill == nil {
			report.Failed[indexKey(i)] = "missing skill"
			continue
		}
		id := item.Skill.ID
		if id == "" {
			id = indexKey(i)
		}

		if err := skills.Validate(item.Skill); err != nil {
			report.Failed[id] = err.Error()
			continue
		}

		source := item.Source
		if !source.Valid() {
			source = skilltypes.SourceUser
		}

		if _, err := m.registry.Register(item.Skill, item.FilePath, source); err != nil {
			report.Failed[id] = err.Error()
			continue
		}

		if err := m.restoreEnabled(id, item.Enabled); err != nil {
			report.Failed[id] = err.Error()
			continue
		}

		report.Imported = append(report.Imported, id)
	}

	return report
}

func (m *Manager) restoreEnabled(id string, enabled bool) error {
	if enabled {
		return m.registry.Enable(id)
	}
	return m.registry.Disable(id)
}

func indexKey(i int) string {
	return "#" + strconv.Itoa(i)
}
