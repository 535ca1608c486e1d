package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examhall/internal/llm/prompts"
	"github.com/pavelanni/examhall/internal/model"
)

// Suggestion is the model's proposed mark for one essay answer.
type Suggestion struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. An unknown variant falls back to standard.
func New(baseURL, apiKey, modelName, variant string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if !prompts.IsValidVariant(variant) {
		variant = string(prompts.PromptStandard)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}
}

// Ping checks that the endpoint answers by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM list models: %w", err)
	}
	return nil
}

// SuggestScore asks the model for a mark and feedback on a free-text
// answer. The score is clamped to [0, question weight].
func (c *Client) SuggestScore(ctx context.Context, q model.Question, answer string) (float64, string, error) {
	prompt, err := prompts.BuildEssayPrompt(c.variant, q, answer)
	if err != nil {
		return 0, "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return 0, "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question", q.ID, "raw", raw)

	s, err := parseSuggestion(raw, q.Weight)
	if err != nil {
		return 0, "", err
	}
	return s.Score, s.Feedback, nil
}

// parseSuggestion decodes the model's JSON reply, tolerating a Markdown code fence.
func parseSuggestion(raw string, maxPoints float64) (Suggestion, error) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(body, "```")
	}
	var s Suggestion
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return s, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if s.Score < 0 {
		s.Score = 0
	}
	if maxPoints >= 0 && s.Score > maxPoints {
		s.Score = maxPoints
	}
	return s, nil
}
