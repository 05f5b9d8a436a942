package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel  = "gpt-4o-mini"
	defaultSystem = "You are an expert software engineer who writes precise, runnable automated tests."
)

// OpenAIBackend calls an OpenAI-compatible chat completion endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend builds a backend. baseURL is optional and targets
// compatible servers.
func NewOpenAIBackend(apiKey, model, baseURL string) (*OpenAIBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Generate implements Backend.
func (o *OpenAIBackend) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	system := params.System
	if system == "" {
		system = defaultSystem
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
