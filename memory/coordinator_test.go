package memory

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/internal/metrics"
	"github.com/BaSui01/memchat/types"
)

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		MaxRecentTurns:           20,
		RecencyLimit:             10,
		SummarizeThresholdTokens: 2000,
		SemanticTopK:             5,
		SemanticThreshold:        0.7,
		FeedbackLimit:            3,
		TierTimeout:              2 * time.Second,
	}
}

func newTestCoordinator(t *testing.T, loader *stubLoader, profileStore *stubProfileStore, index VectorIndex, correctionStore *stubCorrectionStore) *Coordinator {
	t.Helper()
	logger := zap.NewNop()
	cfg := testMemoryConfig()

	return NewCoordinator(
		NewWindow(cfg.MaxRecentTurns, loader, logger),
		NewProfiles(profileStore, NewMapProfileCache(), logger),
		index,
		NewLedger(correctionStore, cfg.FeedbackLimit, nil, logger),
		cfg,
		metrics.NewCollector("test", prometheus.NewRegistry(), logger),
		logger,
	)
}

// failingIndex always errors on query.
type failingIndex struct{ NoopIndex }

func (failingIndex) Query(context.Context, string, []float32, int, float32) ([]types.SemanticMatch, error) {
	return nil, assert.AnError
}

func TestCoordinator_AggregateHappyPath(t *testing.T) {
	loader := &stubLoader{
		turns: map[string][]types.Turn{
			"conv": {testTurn("conv", "hello", 2)},
		},
		summary: &types.ConversationSummary{Text: "earlier talk", RangeStart: 1, RangeEnd: 8},
	}
	index := newTestIndex(t)
	require.NoError(t, index.Add(context.Background(),
		"t1", "alice", "conv", "user", "Chat", "past go question", axisVector(4, 0)))

	c := newTestCoordinator(t, loader, newStubProfileStore(), index, newStubCorrectionStore())

	snapshot := c.Aggregate(context.Background(), "alice", "conv", "query", axisVector(4, 0))

	assert.Equal(t, types.TierOK, snapshot.Recency.Status)
	require.Len(t, snapshot.Recency.Turns, 1)
	require.NotNil(t, snapshot.Recency.Summary)
	assert.Equal(t, "earlier talk", snapshot.Recency.Summary.Text)

	assert.Equal(t, types.TierOK, snapshot.Profile.Status)
	assert.Equal(t, "balanced", snapshot.Profile.Profile.Preferences["communication_style"])

	assert.Equal(t, types.TierOK, snapshot.Semantic.Status)
	require.Len(t, snapshot.Semantic.Matches, 1)

	assert.Equal(t, types.TierOK, snapshot.Feedback.Status)
	assert.Empty(t, snapshot.Feedback.Corrections)
}

func TestCoordinator_FailingTierIsIsolated(t *testing.T) {
	// Recency and feedback stores fail; profile and semantic succeed.
	loader := &stubLoader{loadErr: assert.AnError}
	corrections := newStubCorrectionStore()
	corrections.readErr = assert.AnError

	c := newTestCoordinator(t, loader, newStubProfileStore(), NoopIndex{}, corrections)

	snapshot := c.Aggregate(context.Background(), "alice", "cold-conv", "query", axisVector(4, 0))

	assert.Equal(t, types.TierDegraded, snapshot.Recency.Status)
	assert.NotNil(t, snapshot.Recency.Turns)
	assert.Empty(t, snapshot.Recency.Turns)

	assert.Equal(t, types.TierDegraded, snapshot.Feedback.Status)
	assert.NotNil(t, snapshot.Feedback.Corrections)
	assert.Empty(t, snapshot.Feedback.Corrections)

	// Healthy tiers are unaffected.
	assert.Equal(t, types.TierOK, snapshot.Profile.Status)
	assert.Equal(t, types.TierOK, snapshot.Semantic.Status)
}

func TestCoordinator_SemanticFailureDegrades(t *testing.T) {
	c := newTestCoordinator(t, &stubLoader{}, newStubProfileStore(), failingIndex{}, newStubCorrectionStore())

	snapshot := c.Aggregate(context.Background(), "alice", "conv", "query", axisVector(4, 0))

	assert.Equal(t, types.TierDegraded, snapshot.Semantic.Status)
	assert.Empty(t, snapshot.Semantic.Matches)
}

func TestCoordinator_NilEmbeddingDegradesSemanticOnly(t *testing.T) {
	c := newTestCoordinator(t, &stubLoader{}, newStubProfileStore(), newTestIndex(t), newStubCorrectionStore())

	snapshot := c.Aggregate(context.Background(), "alice", "conv", "query", nil)

	assert.Equal(t, types.TierDegraded, snapshot.Semantic.Status)
	assert.Equal(t, types.TierOK, snapshot.Recency.Status)
	assert.Equal(t, types.TierOK, snapshot.Profile.Status)
	assert.Equal(t, types.TierOK, snapshot.Feedback.Status)
}

func TestCoordinator_ProfileFailureSubstitutesDefault(t *testing.T) {
	profileStore := newStubProfileStore()
	profileStore.getErr = assert.AnError

	c := newTestCoordinator(t, &stubLoader{}, profileStore, NoopIndex{}, newStubCorrectionStore())

	snapshot := c.Aggregate(context.Background(), "alice", "conv", "query", axisVector(4, 0))

	assert.Equal(t, types.TierDegraded, snapshot.Profile.Status)
	// The degraded tier still carries a usable default shape.
	assert.Equal(t, "balanced", snapshot.Profile.Profile.Preferences["communication_style"])
}
