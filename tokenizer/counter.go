// Package tokenizer provides token counting and truncation for prompt budget
// decisions. It wraps tiktoken with a character-based estimator fallback so
// token accounting is best-effort, never fatal.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// fallbackCharsPerToken is the heuristic used when the tokenizer is
// unavailable: 4 characters ≈ 1 token.
const fallbackCharsPerToken = 4

// Counter measures and truncates text by token count. All budget decisions
// in the module go through a single Counter instance.
type Counter struct {
	model  string
	logger *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewCounter creates a Counter for the given model. The tiktoken encoding is
// initialized lazily on first use; if it cannot be loaded, the Counter
// degrades to the character heuristic.
func NewCounter(model string, logger *zap.Logger) *Counter {
	return &Counter{
		model:  model,
		logger: logger.With(zap.String("component", "tokenizer")),
	}
}

func (c *Counter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			// Unknown model: fall back to the cl100k_base encoding before
			// giving up on exact counting entirely.
			enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		}
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken for model %s: %w", c.model, err)
			c.logger.Warn("tokenizer unavailable, using character estimate",
				zap.String("model", c.model),
				zap.Error(err))
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Count returns the token count of text. On tokenizer failure it returns the
// character-heuristic estimate instead of an error.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := c.init(); err != nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate returns text unchanged if it is already within maxTokens,
// otherwise the longest tokenizable prefix capped at maxTokens, decoded back
// to text. Truncation is idempotent: truncating an already-truncated-to-
// budget text is a no-op.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if err := c.init(); err != nil {
		return truncateRunes(text, maxTokens*fallbackCharsPerToken)
	}

	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}

	// Decoding a token prefix and re-encoding it is not guaranteed to yield
	// the same token count with a lossy BPE vocabulary. Shrink the cut until
	// the decoded prefix re-encodes within budget so a second Truncate call
	// sees a no-op.
	cut := maxTokens
	for cut > 0 {
		out := c.enc.Decode(tokens[:cut])
		if len(c.enc.Encode(out, nil, nil)) <= maxTokens {
			return out
		}
		cut--
	}
	return ""
}

// estimateTokens is the 4-chars-per-token heuristic used when tiktoken is
// unavailable.
func estimateTokens(text string) int {
	n := 0
	for range text {
		n++
	}
	return n / fallbackCharsPerToken
}

// truncateRunes cuts text to at most n runes.
func truncateRunes(text string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}
