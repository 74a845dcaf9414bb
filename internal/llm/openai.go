package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"agnusai/internal/types"
)

// OpenAIClient is the openai-go backed model client. It works against any
// OpenAI-compatible endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	sem     chan struct{} // nil = unlimited
}

// NewOpenAIClient builds a client for the given endpoint and model.
func NewOpenAIClient(model, baseURL, apiKey string, maxConcurrency int) *OpenAIClient {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}
	return &OpenAIClient{
		client:  &client,
		model:   model,
		timeout: 120 * time.Second,
		sem:     sem,
	}
}

// SetTimeout sets the per-request timeout.
func (c *OpenAIClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *OpenAIClient) Name() string {
	return "openai-" + c.model
}

// Ping sends a minimal request to verify connection.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	slog.Info("checking llm connection...")
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello"),
		},
		MaxTokens: openai.Int(1),
	}
	if _, err := c.client.Chat.Completions.New(ctx, params); err != nil {
		return fmt.Errorf("llm ping failed: %w", err)
	}
	slog.Info("llm connection verified")
	return nil
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.sem != nil {
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", wrapOpenAIError(fmt.Errorf("openai request: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no openai response")
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapOpenAIError marks 429 and 5xx responses retryable.
func wrapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code == 429 || (code >= 500 && code < 600) {
			return types.NewRetryableError(err)
		}
	}
	return err
}
