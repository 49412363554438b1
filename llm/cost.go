package llm

import "math"

// rate is USD per 1K tokens, split by direction.
type rate struct {
	Input  float64
	Output float64
}

// modelRates covers the models the factory can select plus a few common
// aliases. Unknown models fall back to defaultRate rather than pricing the
// request at zero.
var modelRates = map[string]rate{
	"gpt-4":                    {Input: 0.03, Output: 0.06},
	"gpt-4o":                   {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":              {Input: 0.00015, Output: 0.0006},
	"gpt-3.5-turbo":            {Input: 0.0015, Output: 0.002},
	"claude-3-opus-20240229":   {Input: 0.015, Output: 0.075},
	"claude-3-5-sonnet-latest": {Input: 0.003, Output: 0.015},
	"claude-3-haiku-20240307":  {Input: 0.00025, Output: 0.00125},
	"llama-3.3-70b-versatile":  {Input: 0.00059, Output: 0.00079},
	"llama-3.1-8b-instant":     {Input: 0.00005, Output: 0.00008},
}

var defaultRate = rate{Input: 0.001, Output: 0.002}

// Calculator prices completed requests from token usage.
type Calculator struct {
	rates    map[string]rate
	fallback rate
}

// NewCalculator returns a Calculator with the built-in rate table.
func NewCalculator() *Calculator {
	return &Calculator{rates: modelRates, fallback: defaultRate}
}

// Calculate returns the USD cost of one request, rounded to 6 decimal
// places. Rates are per 1K tokens.
func (c *Calculator) Calculate(model string, promptTokens, completionTokens int) float64 {
	r, ok := c.rates[model]
	if !ok {
		r = c.fallback
	}
	cost := float64(promptTokens)/1000*r.Input + float64(completionTokens)/1000*r.Output
	return math.Round(cost*1e6) / 1e6
}

// KnownModel reports whether model has an explicit rate entry.
func (c *Calculator) KnownModel(model string) bool {
	_, ok := c.rates[model]
	return ok
}
