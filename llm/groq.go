package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
)

// groqEmbeddingDim is the dimensionality of the fallback embedding. Groq
// exposes no embedding endpoint, so Embed derives a deterministic vector
// from the text itself. Not semantically meaningful, but stable: the same
// text always maps to the same vector, which keeps exact-duplicate recall
// working.
const groqEmbeddingDim = 384

// GroqProvider implements Provider against the Groq OpenAI-compatible API.
type GroqProvider struct {
	inner *OpenAIProvider
}

// NewGroqProvider creates a Groq provider. Chat goes through the
// OpenAI-compatible endpoint; embeddings use the hash fallback.
func NewGroqProvider(cfg config.LLMConfig, logger *zap.Logger) *GroqProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai"
	}
	return &GroqProvider{
		inner: NewOpenAIProvider(cfg, logger.With(zap.String("provider", "groq"))),
	}
}

func (p *GroqProvider) Name() string { return "groq" }

// Generate delegates to the OpenAI-compatible chat endpoint.
func (p *GroqProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*GenerateResult, error) {
	res, err := p.inner.Generate(ctx, prompt, maxTokens, temperature)
	if err != nil {
		return nil, err
	}
	res.Provider = p.Name()
	return res, nil
}

// Embed returns a deterministic sha256-derived vector in [-1, 1].
func (p *GroqProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbedding(text, groqEmbeddingDim), nil
}

// hashEmbedding expands a sha256 chain over text into dim floats in [-1, 1].
func hashEmbedding(text string, dim int) []float32 {
	vec := make([]float32, 0, dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for len(vec) < dim {
		for i := 0; i+8 <= len(block) && len(vec) < dim; i += 8 {
			u := binary.BigEndian.Uint64(block[i : i+8])
			// Map the 64-bit value onto [-1, 1].
			f := float64(u)/float64(math.MaxUint64)*2 - 1
			vec = append(vec, float32(f))
		}
		block = sha256.Sum256(block[:])
	}
	return vec
}
