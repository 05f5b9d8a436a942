// Package generation turns selected source files into test summaries and test
// code through a text-generation backend, falling back to deterministic output
// whenever the backend fails or answers with something unusable.
package generation

import "context"

// Category classifies a TestSummary.
type Category string

const (
	CategoryUnit        Category = "unit"
	CategoryIntegration Category = "integration"
	CategoryE2E         Category = "e2e"
)

// FileContent is a selected file and its text.
type FileContent struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// TestSummary proposes one test file. Files holds base names of the covered inputs.
type TestSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Framework   string   `json:"framework"`
	TestCount   int      `json:"testCount"`
	Files       []string `json:"files"`
	Category    Category `json:"category"`
	Fallback    bool     `json:"fallback,omitempty"`
}

// Artifact is generated test source ready to publish.
type Artifact struct {
	Code      string `json:"code"`
	FileName  string `json:"fileName"`
	Framework string `json:"framework"`
	Language  string `json:"language"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// Params tunes a single backend call.
type Params struct {
	System      string
	Temperature *float32
	MaxTokens   *int
}

// Backend is a text-generation service.
type Backend interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}
