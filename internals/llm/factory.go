package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jadenj13/analyst/internals/conversation"
)

const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

type Client interface {
	Complete(ctx context.Context, msgs []conversation.Message, tools []mcp.Tool) (conversation.Message, error)
	Name() string
}

type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64
}

// New builds the client for cfg.Provider. OpenRouter and any other
// OpenAI-compatible gateway go through the Chat Completions client.
func New(cfg Config, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Provider)
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropic(cfg.APIKey,
			WithAnthropicModel(cfg.Model),
			WithAnthropicMaxTokens(cfg.MaxTokens),
			WithAnthropicBaseURL(cfg.BaseURL),
			WithAnthropicLogger(log),
		), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey,
			WithOpenAIModel(cfg.Model),
			WithOpenAIBaseURL(cfg.BaseURL),
			WithOpenAIMaxTokens(cfg.MaxTokens),
			WithOpenAILogger(log),
		), nil
	case ProviderOpenRouter:
		model := cfg.Model
		if model == "" {
			model = DefaultOpenRouterModel
		}
		base := cfg.BaseURL
		if base == "" {
			base = OpenRouterBaseURL
		}
		return NewOpenAI(cfg.APIKey,
			WithOpenAIModel(model),
			WithOpenAIBaseURL(base),
			WithOpenAIMaxTokens(cfg.MaxTokens),
			WithOpenAILogger(log),
		), nil
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.Provider)
	}
}
