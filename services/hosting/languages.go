package hosting

import (
	"path"
	"strings"
)

const unknownLanguage = "Unknown"

// codeExtensions is the allow-list of source files offered for selection.
var codeExtensions = map[string]string{
	".js":     "JavaScript",
	".jsx":    "JavaScript",
	".ts":     "TypeScript",
	".tsx":    "TypeScript",
	".py":     "Python",
	".java":   "Java",
	".cpp":    "C++",
	".c":      "C",
	".cs":     "C#",
	".php":    "PHP",
	".rb":     "Ruby",
	".go":     "Go",
	".vue":    "Vue",
	".svelte": "Svelte",
}

// Recognised but never listed.
var otherExtensions = map[string]string{
	".rs":    "Rust",
	".swift": "Swift",
	".kt":    "Kotlin",
}

var excludedDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	".next":        {},
	"coverage":     {},
	"__pycache__":  {},
	".venv":        {},
	"vendor":       {},
}

// LanguageFor derives a display language from the file extension.
func LanguageFor(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if lang, ok := codeExtensions[ext]; ok {
		return lang
	}
	if lang, ok := otherExtensions[ext]; ok {
		return lang
	}
	return unknownLanguage
}

// IsCodeFile reports whether p should be offered for test generation: an
// allow-listed extension, outside dependency and build directories, and not
// already a test file.
func IsCodeFile(p string) bool {
	if p == "" {
		return false
	}
	if _, ok := codeExtensions[strings.ToLower(path.Ext(p))]; !ok {
		return false
	}
	base := path.Base(p)
	if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
		return false
	}
	dirs := strings.Split(path.Dir(p), "/")
	for _, d := range dirs {
		if _, excluded := excludedDirs[d]; excluded {
			return false
		}
	}
	return true
}
