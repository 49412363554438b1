package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculator_KnownModels(t *testing.T) {
	c := NewCalculator()

	// gpt-4: 0.03 in / 0.06 out per 1K tokens.
	assert.Equal(t, 0.09, c.Calculate("gpt-4", 1000, 1000))
	assert.Equal(t, 0.0035, c.Calculate("gpt-3.5-turbo", 1000, 1000))
	assert.Equal(t, 0.09, c.Calculate("claude-3-opus-20240229", 1000, 1000))

	assert.True(t, c.KnownModel("gpt-4"))
	assert.False(t, c.KnownModel("not-a-model"))
}

func TestCalculator_UnknownModelUsesFallback(t *testing.T) {
	c := NewCalculator()

	// Default rate: 0.001 in / 0.002 out per 1K tokens.
	assert.Equal(t, 0.003, c.Calculate("some-future-model", 1000, 1000))
}

func TestCalculator_RoundsToSixDecimals(t *testing.T) {
	c := NewCalculator()

	// 123/1000*0.03 + 45/1000*0.06 = 0.00369 + 0.0027 = 0.00639
	assert.Equal(t, 0.00639, c.Calculate("gpt-4", 123, 45))

	// 7*0.00005/1000 + 3*0.00008/1000 = 5.9e-7, which rounds up to 1e-6.
	got := c.Calculate("llama-3.1-8b-instant", 7, 3)
	assert.InDelta(t, 1e-6, got, 1e-9)
}

func TestCalculator_ZeroUsageIsFree(t *testing.T) {
	c := NewCalculator()
	assert.Zero(t, c.Calculate("gpt-4", 0, 0))
}
