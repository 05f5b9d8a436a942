package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		title    string
		language string
		want     string
	}{
		{"API Tests", "JavaScript", "api-tests.test.js"},
		{"  Component -- Rendering!! Tests ", "TypeScript", "component-rendering-tests.test.ts"},
		{"Utility Function Tests", "Python", "utility-function-tests_test.py"},
		{"Handler tests", "Go", "handler-tests_test.go"},
		{"User Model", "Ruby", "user-model_spec.rb"},
		{"Edge Cases", "Cobol", "edge-cases.test.js"},
		{"???", "JavaScript", "generated.test.js"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.title, tt.language))
		})
	}
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "a_js_handles_valid_input", identifier("a.js handles valid input"))
	assert.Equal(t, "AJsHandlesValidInput", exported("a.js handles valid input"))
	assert.Equal(t, "case_1st", identifier("1st"))
	assert.Equal(t, "Case1st", exported("1st"))
}

func TestFrameworkFor(t *testing.T) {
	assert.Equal(t, "pytest", FrameworkFor("Python"))
	assert.Equal(t, "Jest", FrameworkFor("Unknown"))
}
