// Package skills provides the file-level collaborators of the skill registry:
// the parser that turns skill documents into canonical records, the migrator
// for legacy documents, the loader that enumerates skill files, and the path
// classification and ignore rules shared with the hot-reload watcher.
package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillreg/pkg/logger"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

// DefaultMaxFileSize bounds the size of a skill document
const DefaultMaxFileSize = 1 << 20

// ParseError describes why a skill document could not be turned into a skill
type ParseError struct {
	Path          string
	Message       string
	FormatVersion string
	Err           error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseResult is the outcome of parsing a document. Parsing never returns a
// Go error; failures are carried in Error.
type ParseResult struct {
	Success               bool
	Skill                 *skilltypes.Skill
	DetectedFormatVersion string
	Error                 *ParseError
}

func failed(path, version string, err error, format string, args ...interface{}) *ParseResult {
	return &ParseResult{
		DetectedFormatVersion: version,
		Error: &ParseError{
			Path:          path,
			Message:       fmt.Sprintf(format, args...),
			FormatVersion: version,
			Err:           err,
		},
	}
}

// Parser reads canonical skill documents in Markdown (YAML front-matter),
// JSON or YAML form
type Parser struct {
	maxFileSize int64
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithMaxFileSize overrides DefaultMaxFileSize
func WithMaxFileSize(size int64) ParserOption {
	return func(p *Parser) {
		if size > 0 {
			p.maxFileSize = size
		}
	}
}

// NewParser creates a parser
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile reads and parses the document at path
func (p *Parser) ParseFile(ctx context.Context, path string) *ParseResult {
	info, err := os.Stat(path)
	if err != nil {
		return failed(path, "", err, "failed to stat skill file: %v", err)
	}
	if info.IsDir() {
		return failed(path, "", nil, "path is a directory")
	}
	if info.Size() > p.maxFileSize {
		return failed(path, "", nil, "skill file is %d bytes, limit is %d", info.Size(), p.maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failed(path, "", err, "failed to read skill file: %v", err)
	}

	result := p.ParseBytes(data, path)
	if !result.Success {
		logger.G(ctx).WithField("path", path).WithError(result.Error).Debug("failed to parse skill file")
	}
	return result
}

// ParseBytes parses data, choosing the format from the extension of path
func (p *Parser) ParseBytes(data []byte, path string) *ParseResult {
	raw, body, err := decodeDocument(data, path)
	if err != nil {
		return failed(path, "", err, "%v", err)
	}

	version := DetectFormatVersion(raw)
	if version == skilltypes.FormatVersionLegacy {
		return failed(path, version, nil, "legacy skill format (version %s) requires migration", version)
	}
	if version != skilltypes.FormatVersionCurrent {
		return failed(path, version, nil, "unsupported skill format version '%s'", version)
	}

	skill, err := decodeSkill(raw)
	if err != nil {
		return failed(path, version, err, "invalid skill document: %v", err)
	}
	if strings.TrimSpace(body) != "" {
		skill.Template = body
	}

	if err := Validate(skill); err != nil {
		return failed(path, version, err, "%v", err)
	}

	return &ParseResult{
		Success:               true,
		Skill:                 skill,
		DetectedFormatVersion: version,
	}
}

// decodeDocument turns a document into a generic map plus, for Markdown, the
// body below the front-matter
func decodeDocument(data []byte, path string) (map[string]interface{}, string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".md", ".markdown":
		return decodeMarkdown(data)
	case ".json":
		raw := make(map[string]interface{})
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, "", errors.Wrap(err, "invalid JSON")
		}
		return raw, "", nil
	case ".yaml", ".yml":
		raw := make(map[string]interface{})
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, "", errors.Wrap(err, "invalid YAML")
		}
		return normalizeMap(raw), "", nil
	default:
		return nil, "", errors.Errorf("unsupported skill file extension '%s'", ext)
	}
}

func decodeMarkdown(data []byte) (map[string]interface{}, string, error) {
	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(data, &buf, parser.WithContext(pctx)); err != nil {
		return nil, "", errors.Wrap(err, "failed to parse markdown")
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid front-matter")
	}
	if len(metaData) == 0 {
		return nil, "", errors.New("missing front-matter")
	}

	return normalizeMap(metaData), extractBodyContent(string(data)), nil
}

// extractBodyContent removes YAML front-matter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}

	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\r\n")
}

// normalizeMap converts the map[interface{}]interface{} values produced by
// YAML decoders into map[string]interface{} so the result can be re-encoded
// as JSON and decoded into structs
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	case map[string]interface{}:
		return normalizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// DetectFormatVersion reports the format version of a decoded document. An
// explicit formatVersion wins; otherwise the shape decides.
func DetectFormatVersion(raw map[string]interface{}) string {
	if v, ok := raw["formatVersion"]; ok && v != nil {
		version := strings.TrimPrefix(strings.TrimSpace(fmt.Sprint(v)), "v")
		if i := strings.Index(version, "."); i > 0 {
			version = version[:i]
		}
		return version
	}

	_, hasID := raw["id"]
	_, hasMetadata := raw["metadata"]
	_, hasName := raw["name"]
	if hasName && !hasMetadata {
		return skilltypes.FormatVersionLegacy
	}
	if !hasID && (raw["prompt"] != nil || raw["description"] != nil) {
		return skilltypes.FormatVersionLegacy
	}
	return skilltypes.FormatVersionCurrent
}

func decodeSkill(raw map[string]interface{}) (*skilltypes.Skill, error) {
	skill := &skilltypes.Skill{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           skill,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return skill, nil
}
