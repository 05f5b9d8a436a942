package generation

import (
	"fmt"
	"path"
	"strings"

	"casegen/pkg/render"
)

const maxFallbackSummaries = 4

type heuristic struct {
	title       string
	description string
	category    Category
	perFile     int
	match       func(p string) bool
}

func pathHas(keywords ...string) func(string) bool {
	return func(p string) bool {
		lower := strings.ToLower(p)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
		return false
	}
}

var heuristics = []heuristic{
	{
		title:       "API Tests",
		description: "Request handling, status codes and error responses of the API layer",
		category:    CategoryIntegration,
		perFile:     4,
		match:       pathHas("api", "route", "controller", "handler", "server", "endpoint"),
	},
	{
		title:       "Component Rendering Tests",
		description: "Component mounting, props handling and rendered output",
		category:    CategoryUnit,
		perFile:     3,
		match: func(p string) bool {
			switch strings.ToLower(path.Ext(p)) {
			case ".jsx", ".tsx", ".vue", ".svelte":
				return true
			}
			return pathHas("component")(p)
		},
	},
	{
		title:       "Utility Function Tests",
		description: "Pure helper functions with typical, boundary and invalid inputs",
		category:    CategoryUnit,
		perFile:     3,
		match:       pathHas("util", "helper", "lib/", "common"),
	},
	{
		title:       "End-to-End Flow Tests",
		description: "User-facing flows across pages and views",
		category:    CategoryE2E,
		perFile:     2,
		match:       pathHas("page", "view", "app", "screen"),
	},
}

// FallbackSummaries derives between one and four summaries from file paths and
// languages alone. It always returns at least one summary with a positive test
// count covering every input file, provided inputs is non-empty.
func FallbackSummaries(inputs []FileContent, primaryLanguage string) []TestSummary {
	if len(inputs) == 0 {
		return nil
	}
	language := dominantLanguage(inputs, primaryLanguage)
	framework := FrameworkFor(language)

	all := make([]string, 0, len(inputs))
	for _, f := range inputs {
		all = append(all, path.Base(f.Path))
	}
	out := []TestSummary{{
		Title:       language + " Unit Tests",
		Description: fmt.Sprintf("Core behaviour of %s with valid, edge-case and invalid inputs", strings.Join(all, ", ")),
		Framework:   framework,
		TestCount:   2 * len(inputs),
		Files:       all,
		Category:    CategoryUnit,
		Fallback:    true,
	}}

	for _, h := range heuristics {
		if len(out) == maxFallbackSummaries {
			break
		}
		var matched []string
		for _, f := range inputs {
			if h.match(f.Path) {
				matched = append(matched, path.Base(f.Path))
			}
		}
		if len(matched) == 0 {
			continue
		}
		out = append(out, TestSummary{
			Title:       h.title,
			Description: h.description,
			Framework:   framework,
			TestCount:   h.perFile * len(matched),
			Files:       matched,
			Category:    h.category,
			Fallback:    true,
		})
	}

	for i := range out {
		out[i].ID = fmt.Sprintf("%s-%d", Slug(out[i].Title), i+1)
	}
	return out
}

func dominantLanguage(inputs []FileContent, primary string) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for _, f := range inputs {
		if f.Language == "" || f.Language == "Unknown" {
			continue
		}
		counts[f.Language]++
		if counts[f.Language] > bestN {
			best, bestN = f.Language, counts[f.Language]
		}
	}
	if best != "" {
		return best
	}
	if primary != "" {
		return primary
	}
	return defaultLanguage
}

type fallbackCase struct {
	Name     string
	Category string
	Ident    string
	Export   string
}

type fallbackData struct {
	Title       string
	Description string
	Framework   string
	Files       []string
	ClassName   string
	Package     string
	Cases       []fallbackCase
}

var caseShapes = []string{
	"handles valid input",
	"rejects invalid input",
	"handles empty input",
	"handles boundary values",
}

// maxFallbackCases keeps skeleton files short.
const maxFallbackCases = 8

// FallbackCode renders a minimal test skeleton for summary in language with
// setup and teardown hooks and one assertion per case.
func FallbackCode(engine *render.Engine, summary TestSummary, language string) (string, error) {
	tc := toolchainFor(language)
	n := summary.TestCount
	if n < 1 {
		n = 1
	}
	if n > maxFallbackCases {
		n = maxFallbackCases
	}
	files := make([]string, 0, len(summary.Files))
	for _, f := range summary.Files {
		files = append(files, literal(f))
	}
	if len(files) == 0 {
		files = []string{"source"}
	}

	category := summary.Category
	if category == "" {
		category = CategoryUnit
	}

	seen := make(map[string]struct{}, n)
	cases := make([]fallbackCase, 0, n)
	for i := 0; i < n; i++ {
		name := literal(fmt.Sprintf("%s %s", path.Base(files[i%len(files)]), caseShapes[i%len(caseShapes)]))
		if _, dup := seen[identifier(name)]; dup {
			name = fmt.Sprintf("%s %d", name, i+1)
		}
		seen[identifier(name)] = struct{}{}
		cases = append(cases, fallbackCase{
			Name:     name,
			Category: string(category),
			Ident:    identifier(name),
			Export:   exported(name),
		})
	}

	data := fallbackData{
		Title:       literal(summary.Title),
		Description: literal(summary.Description),
		Framework:   literal(summary.Framework),
		Files:       files,
		ClassName:   exported(summary.Title) + "Test",
		Package:     "tests",
		Cases:       cases,
	}
	return engine.Render(tc.template, data)
}

// literal strips characters that would terminate string literals or comments
// in the rendered skeletons.
func literal(s string) string {
	return strings.NewReplacer("'", "", "\"", "", "`", "", "\\", "", "*/", "", "\n", " ").Replace(s)
}
