package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"casegen/pkg/apperr"
)

const parseOp = "generation.ParseSummaries"

// count accepts a JSON number or a numeric string.
type count int

func (c *count) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("testCount: %w", err)
	}
	*c = count(f)
	return nil
}

type rawSummary struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Framework   string   `json:"framework"`
	TestCount   count    `json:"testCount"`
	Files       []string `json:"files"`
	Category    string   `json:"category"`
}

// ParseSummaries interprets a backend response as a JSON array of summaries.
// Markdown code fences are stripped and the outermost array is extracted.
// Entries without a title, a positive test count, or at least one file from
// inputs are dropped; if nothing survives the result is a parse error.
func ParseSummaries(response string, inputs []FileContent, language string) ([]TestSummary, error) {
	text := stripFences(response)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, apperr.New(apperr.KindParse, parseOp, "response contains no JSON array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, parseOp, err)
	}

	known := knownFiles(inputs)
	var out []TestSummary
	for _, item := range raw {
		var rs rawSummary
		if err := json.Unmarshal(item, &rs); err != nil {
			continue
		}
		title := strings.TrimSpace(rs.Title)
		if title == "" || rs.TestCount < 1 {
			continue
		}
		files := matchFiles(rs.Files, known)
		if len(files) == 0 {
			continue
		}
		framework := strings.TrimSpace(rs.Framework)
		if framework == "" {
			framework = FrameworkFor(language)
		}
		description := strings.TrimSpace(rs.Description)
		if description == "" {
			description = title
		}
		out = append(out, TestSummary{
			ID:          fmt.Sprintf("%s-%d", Slug(title), len(out)+1),
			Title:       title,
			Description: description,
			Framework:   framework,
			TestCount:   int(rs.TestCount),
			Files:       files,
			Category:    normalizeCategory(rs.Category),
		})
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindParse, parseOp, "response contains no usable summaries")
	}
	return out, nil
}

// stripFences removes markdown code fence lines such as ```json and ```.
func stripFences(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// unwrapFence returns the body of s when the whole response is a single fenced block.
func unwrapFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return s
	}
	body := strings.TrimSuffix(trimmed, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return s
	}
	body = body[nl+1:]
	if strings.Contains(body, "```") {
		return s
	}
	return strings.TrimRight(body, " \t\r\n") + "\n"
}

func knownFiles(inputs []FileContent) map[string]string {
	known := make(map[string]string, len(inputs)*2)
	for _, f := range inputs {
		base := path.Base(f.Path)
		known[f.Path] = base
		known[base] = base
	}
	return known
}

func matchFiles(names []string, known map[string]string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, name := range names {
		name = strings.TrimPrefix(strings.TrimSpace(name), "./")
		base, ok := known[name]
		if !ok {
			base, ok = known[path.Base(name)]
		}
		if !ok {
			continue
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		out = append(out, base)
	}
	return out
}

func normalizeCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "integration"):
		return CategoryIntegration
	case strings.Contains(s, "e2e"), strings.Contains(s, "end-to-end"), strings.Contains(s, "end to end"):
		return CategoryE2E
	default:
		return CategoryUnit
	}
}
