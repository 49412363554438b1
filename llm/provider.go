// Package llm defines the generation backend contract and its provider
// implementations. A Provider bundles the two capabilities the pipeline
// needs: text generation and embedding. Providers are swappable via the
// factory without changing pipeline logic.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/types"
)

// GenerateResult is the outcome of one generation call.
type GenerateResult struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// Provider is the capability interface for a generation backend.
type Provider interface {
	// Name returns the provider identifier (openai, anthropic, groq, mock).
	Name() string

	// Generate produces a completion for the assembled prompt.
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*GenerateResult, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewProvider constructs the configured provider. Selection happens once at
// construction time; the rest of the module only sees the interface.
func NewProvider(cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "groq":
		return NewGroqProvider(cfg, logger), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, types.NewError(types.ErrProviderNotFound,
			fmt.Sprintf("unknown llm provider: %s", cfg.Provider))
	}
}
