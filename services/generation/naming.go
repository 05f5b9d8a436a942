package generation

import (
	"strings"
	"unicode"
)

const defaultLanguage = "JavaScript"

type toolchain struct {
	framework string
	suffix    string
	template  string
}

var toolchains = map[string]toolchain{
	"JavaScript": {"Jest", ".test.js", "fallback_jest.tmpl"},
	"TypeScript": {"Jest", ".test.ts", "fallback_jest.tmpl"},
	"Vue":        {"Vitest", ".test.js", "fallback_jest.tmpl"},
	"Svelte":     {"Vitest", ".test.js", "fallback_jest.tmpl"},
	"Python":     {"pytest", "_test.py", "fallback_pytest.tmpl"},
	"Go":         {"testing", "_test.go", "fallback_gotest.tmpl"},
	"Java":       {"JUnit 5", ".test.java", "fallback_junit.tmpl"},
	"Ruby":       {"RSpec", "_spec.rb", "fallback_rspec.tmpl"},
	"PHP":        {"PHPUnit", ".test.php", "fallback_phpunit.tmpl"},
	"C#":         {"xUnit", ".tests.cs", "fallback_xunit.tmpl"},
	"C++":        {"GoogleTest", "_test.cpp", "fallback_cassert.tmpl"},
	"C":          {"assert.h", "_test.c", "fallback_cassert.tmpl"},
	"Rust":       {"cargo test", "_test.rs", "fallback_generic.tmpl"},
	"Swift":      {"XCTest", ".test.swift", "fallback_generic.tmpl"},
	"Kotlin":     {"JUnit 5", ".test.kt", "fallback_generic.tmpl"},
}

func toolchainFor(language string) toolchain {
	if tc, ok := toolchains[language]; ok {
		return tc
	}
	return toolchains[defaultLanguage]
}

// FrameworkFor returns the test framework used for language.
func FrameworkFor(language string) string {
	return toolchainFor(language).framework
}

// FileName derives the test file name for a summary title: lower-cased, runs
// of non-alphanumerics collapsed to one hyphen, plus the language's test suffix.
func FileName(title, language string) string {
	slug := Slug(title)
	if slug == "" {
		slug = "generated"
	}
	return slug + toolchainFor(language).suffix
}

// Slug lower-cases s and replaces runs of non-alphanumeric characters with a
// single hyphen, trimming hyphens at either end.
func Slug(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if isAlnum(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !isAlnum(r) })
}

// identifier renders s as snake_case.
func identifier(s string) string {
	id := strings.Join(words(s), "_")
	if id == "" || unicode.IsDigit(rune(id[0])) {
		id = "case_" + id
	}
	return id
}

// exported renders s as PascalCase.
func exported(s string) string {
	var b strings.Builder
	for _, w := range words(s) {
		b.WriteString(strings.ToUpper(w[:1]) + w[1:])
	}
	out := b.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "Case" + out
	}
	return out
}
