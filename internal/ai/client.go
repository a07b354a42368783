// Package ai obtains trade recommendations by prompting a chat-completion
// model with the assembled options chain.
package ai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Completer produces one completion for one prompt. The pipeline consumes
// only the returned text; model choice and transport stay behind this
// interface so offline runs can substitute canned responses.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Low temperature keeps the numeric output focused; the token budget covers
// a short analysis plus one JSON block.
const (
	defaultMaxTokens   = 1500
	defaultTemperature = 0.1
)

// GrokClient calls an OpenAI-compatible chat-completions endpoint. Pointing
// baseURL at api.x.ai/v1 selects xAI's Grok models; any compatible server
// works, which is how tests stand one up locally.
type GrokClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewGrokClient builds a client for the given endpoint and model. An empty
// baseURL falls through to the library's OpenAI default.
func NewGrokClient(apiKey, baseURL, model string) *GrokClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GrokClient{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
}

// WithMaxTokens overrides the completion token budget. Non-positive values
// are ignored.
func (c *GrokClient) WithMaxTokens(n int) *GrokClient {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

// Complete sends the prompt as a single user message and returns the first
// choice's text.
func (c *GrokClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("ai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ai completion: no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Completer = (*GrokClient)(nil)
