package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a deterministic in-process provider for tests and local
// development. Generate echoes a canned or scripted response; Embed uses the
// same hash fallback as the Groq provider so vector recall behaves
// consistently across both.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int

	// GenerateErr, when set, is returned by every Generate call.
	GenerateErr error
	// EmbedErr, when set, is returned by every Embed call.
	EmbedErr error
}

// NewMockProvider creates a mock provider with no scripted responses.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

func (p *MockProvider) Name() string { return "mock" }

// Generate returns the next scripted response, or a deterministic echo when
// the script is exhausted. Token counts are derived from lengths so cost and
// trace paths see non-zero usage.
func (p *MockProvider) Generate(_ context.Context, prompt string, _ int, _ float64) (*GenerateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.GenerateErr != nil {
		return nil, p.GenerateErr
	}

	var text string
	if p.calls < len(p.responses) {
		text = p.responses[p.calls]
	} else {
		text = fmt.Sprintf("mock response %d", p.calls+1)
	}
	p.calls++

	promptTokens := len(prompt) / 4
	completionTokens := len(text) / 4
	if completionTokens == 0 {
		completionTokens = 1
	}

	return &GenerateResult{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            "mock-model",
		Provider:         p.Name(),
	}, nil
}

// Embed returns a deterministic vector for text.
func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	err := p.EmbedErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return hashEmbedding(text, groqEmbeddingDim), nil
}

// Calls reports how many Generate calls were made.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
