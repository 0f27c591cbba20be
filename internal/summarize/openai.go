package summarize

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"docsum/internal/config"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient summarizes through any OpenAI-compatible chat completion API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

var _ Summarizer = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg config.SummarizerConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = cfg.Endpoint
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
	}
}

func (c *OpenAIClient) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(text, maxChars)},
		},
		MaxTokens:   maxChars,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response generated")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
