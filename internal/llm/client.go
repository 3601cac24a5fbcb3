// Package llm wraps the language-model API used for claim extraction,
// triangulation and checklist embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// extractionTemperature keeps structured-output runs close to deterministic
// while leaving room for paraphrase in summaries.
const extractionTemperature = 0.3

type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
}

func NewClient(apiKey, chatModel, embedModel string) *Client {
	return &Client{
		api:        openai.NewClient(apiKey),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

// NewClientWithBaseURL points the client at a different API host, used by
// tests.
func NewClientWithBaseURL(apiKey, chatModel, embedModel, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		api:        openai.NewClientWithConfig(cfg),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

// CompleteJSON runs one system+user exchange in JSON mode and returns the
// raw model output. Callers own parsing; the model is only constrained to
// emit a JSON document.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: extractionTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for a text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings response is empty")
	}

	out := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float64(v)
	}
	return out, nil
}

// Retriable reports whether a model API error is worth retrying. Rate limits
// and server-side failures are; malformed requests are not.
func Retriable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	// Transport-level failures are retriable by default.
	return true
}
