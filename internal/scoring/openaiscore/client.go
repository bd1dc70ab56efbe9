package openaiscore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"leadscore-backend/internal/scoring"
)

const maxTokens = 1024

// Client scores subjects with the OpenAI Chat Completions API.
type Client struct {
	api       *openai.Client
	model     string
	costPer1K float64
}

// NewClient constructs an OpenAI-backed scorer. costPer1K is the price
// per 1000 tokens used to estimate each call's cost; zero disables the
// estimate.
func NewClient(apiKey, model string, costPer1K float64) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("SCORE_MODEL is required")
	}
	return &Client{api: openai.NewClient(apiKey), model: model, costPer1K: costPer1K}, nil
}

type scoreResponse struct {
	Score      *float64       `json:"score"`
	Summary    string         `json:"summary"`
	Attributes map[string]any `json:"attributes"`
}

// Score runs a single completion and parses the JSON result.
func (c *Client) Score(ctx context.Context, input scoring.Input) (scoring.Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(input)},
		},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens.
	if strings.HasPrefix(c.model, "o1") || strings.HasPrefix(c.model, "o3") ||
		strings.HasPrefix(c.model, "o4") || strings.HasPrefix(c.model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return scoring.Result{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return scoring.Result{}, fmt.Errorf("%w: empty choices", scoring.ErrSchemaMismatch)
	}
	return parseResult(resp.Choices[0].Message.Content, resp.Usage.TotalTokens, c.costPer1K)
}

// parseResult decodes the model's JSON output into a normalized result,
// clamping the score to 0..100 and estimating the call cost from usage.
func parseResult(content string, totalTokens int, costPer1K float64) (scoring.Result, error) {
	var parsed scoreResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return scoring.Result{}, fmt.Errorf("%w: %v", scoring.ErrSchemaMismatch, err)
	}
	if parsed.Score == nil {
		return scoring.Result{}, fmt.Errorf("%w: missing score field", scoring.ErrSchemaMismatch)
	}
	score := *parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return scoring.Result{
		Score:      score,
		Summary:    strings.TrimSpace(parsed.Summary),
		Attributes: parsed.Attributes,
		Tokens:     totalTokens,
		Cost:       float64(totalTokens) / 1000 * costPer1K,
	}, nil
}

var _ scoring.Scorer = (*Client)(nil)
