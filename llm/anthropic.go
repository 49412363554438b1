package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/types"
)

// AnthropicProvider implements Provider against the Anthropic messages API.
// The API differs from OpenAI in three ways that matter here:
// authentication uses the x-api-key header, the response content is a block
// list, and there is no embedding endpoint — Embed delegates to a configured
// OpenAI-compatible endpoint.
type AnthropicProvider struct {
	cfg    config.LLMConfig
	client *http.Client
	embed  *OpenAIProvider
	logger *zap.Logger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg config.LLMConfig, logger *zap.Logger) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Claude responses can be slow.
		timeout = 60 * time.Second
	}

	p := &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("provider", "anthropic")),
	}

	if cfg.EmbedBaseURL != "" {
		embedCfg := cfg
		embedCfg.BaseURL = cfg.EmbedBaseURL
		embedCfg.APIKey = cfg.EmbedAPIKey
		p.embed = NewOpenAIProvider(embedCfg, logger)
	}

	return p
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Model   string             `json:"model"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicErrorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate calls the messages endpoint with the prompt as a single user
// message.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*GenerateResult, error) {
	reqBody := anthropicRequest{
		Model:       p.cfg.Model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "anthropic request failed").
			WithProvider(p.Name()).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp anthropicErrorResp
		msg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("anthropic status=%d: %s", resp.StatusCode, msg)).
			WithProvider(p.Name()).WithRetryable(retryable)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	model := apiResp.Model
	if model == "" {
		model = p.cfg.Model
	}

	return &GenerateResult{
		Text:             text.String(),
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
		TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		Model:            model,
		Provider:         p.Name(),
	}, nil
}

// Embed delegates to the configured OpenAI-compatible embedding endpoint.
// Anthropic provides no embedding API.
func (p *AnthropicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.embed == nil {
		return nil, types.NewError(types.ErrEmbedding,
			"anthropic has no embedding API and no embed_base_url is configured").
			WithProvider(p.Name())
	}
	return p.embed.Embed(ctx, text)
}
