package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient is the langchaingo backed model client. Useful where a
// deployment already fronts its models with a langchaingo-compatible gateway.
type LangChainClient struct {
	model llms.Model
	name  string
}

// NewLangChainClient builds a langchaingo client against an OpenAI-compatible
// endpoint.
func NewLangChainClient(model, baseURL, apiKey string) (*LangChainClient, error) {
	m, err := lcopenai.New(
		lcopenai.WithModel(model),
		lcopenai.WithBaseURL(baseURL),
		lcopenai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create langchain llm: %w", err)
	}
	return &LangChainClient{model: m, name: "langchain-" + model}, nil
}

func (c *LangChainClient) Name() string { return c.name }

// Ping sends a minimal request to verify connection.
func (c *LangChainClient) Ping(ctx context.Context) error {
	slog.Info("checking llm connection...")
	if _, err := llms.GenerateFromSinglePrompt(ctx, c.model, "hello",
		llms.WithMaxTokens(1)); err != nil {
		return fmt.Errorf("llm ping failed: %w", err)
	}
	slog.Info("llm connection verified")
	return nil
}

func (c *LangChainClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("langchain request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no langchain response")
	}
	return resp.Choices[0].Content, nil
}
