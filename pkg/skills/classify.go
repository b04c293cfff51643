package skills

import (
	"path/filepath"
	"strings"
)

// skillsDirName is the directory segment under which any recognized file is
// treated as a skill document
const skillsDirName = "skills"

var canonicalFileNames = map[string]bool{
	"SKILL.md":   true,
	"skill.md":   true,
	"skill.json": true,
	"skill.yaml": true,
	"skill.yml":  true,
}

var skillExtensions = map[string]bool{
	".md":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
}

var excludedFileNames = map[string]bool{
	"README.md":    true,
	"CHANGELOG.md": true,
}

// IsSkillFile reports whether path names a skill document: a canonical file
// name anywhere, or a recognized extension below a "skills" directory
func IsSkillFile(path string) bool {
	base := filepath.Base(path)
	if excludedFileNames[base] {
		return false
	}
	if canonicalFileNames[base] {
		return true
	}
	if !skillExtensions[strings.ToLower(filepath.Ext(base))] {
		return false
	}

	dir := filepath.ToSlash(filepath.Dir(path))
	for _, segment := range strings.Split(dir, "/") {
		if segment == skillsDirName {
			return true
		}
	}
	return false
}
