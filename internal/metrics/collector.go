// Package metrics provides prometheus metrics for the request pipeline.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the pipeline metric instruments.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	tierOutcomes    *prometheus.CounterVec
	llmTokensUsed   *prometheus.CounterVec
	llmCost         *prometheus.CounterVec
	promptOverflows prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers and returns the pipeline metrics collector.
// It uses promauto with a custom registry so tests can create multiple
// collectors without duplicate registration panics.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total pipeline requests by outcome",
		},
		[]string{"outcome"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	c.tierOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_tier_outcomes_total",
			Help:      "Memory tier retrieval outcomes (ok or degraded)",
		},
		[]string{"tier", "status"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens used by type",
		},
		[]string{"provider", "model", "type"},
	)

	c.llmCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated LLM cost in USD",
		},
		[]string{"provider", "model"},
	)

	c.promptOverflows = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_budget_overflows_total",
			Help:      "Assembled prompts that exceeded the token budget after trimming",
		},
	)

	return c
}

// ObserveRequest records a completed request with its outcome
// (ok, degraded, error, timeout).
func (c *Collector) ObserveRequest(outcome string) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of one pipeline stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTier records a memory tier outcome.
func (c *Collector) ObserveTier(tier, status string) {
	c.tierOutcomes.WithLabelValues(tier, status).Inc()
}

// ObserveTokens records token usage for one generation call.
func (c *Collector) ObserveTokens(provider, model string, promptTokens, completionTokens int) {
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// ObserveCost records the estimated cost of one generation call.
func (c *Collector) ObserveCost(provider, model string, cost float64) {
	c.llmCost.WithLabelValues(provider, model).Add(cost)
}

// ObservePromptOverflow records a prompt that stayed over budget after the
// trimmable layers were cut.
func (c *Collector) ObservePromptOverflow() {
	c.promptOverflows.Inc()
}
