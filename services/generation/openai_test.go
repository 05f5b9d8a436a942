package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIBackendGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   got.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "[]"}, "finish_reason": "stop"}},
		})
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend("sk-test", "", srv.URL+"/v1/")
	require.NoError(t, err)

	out, err := backend.Generate(context.Background(), "list tests", Params{})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "list tests", got.Messages[1].Content)
}

func TestOpenAIBackendErrors(t *testing.T) {
	_, err := NewOpenAIBackend("", "", "")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend("sk-test", "gpt-4o", srv.URL)
	require.NoError(t, err)
	_, err = backend.Generate(context.Background(), "x", Params{})
	assert.Error(t, err)
}
