package memory

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/types"
)

// stubCorrectionStore keeps corrections in memory, newest first on read.
type stubCorrectionStore struct {
	corrections []types.Correction
	applied     map[string]int
	createErr   error
	readErr     error
}

func newStubCorrectionStore() *stubCorrectionStore {
	return &stubCorrectionStore{applied: make(map[string]int)}
}

func (s *stubCorrectionStore) CreateCorrection(_ context.Context, c types.Correction) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.corrections = append(s.corrections, c)
	return nil
}

func (s *stubCorrectionStore) RecentCorrections(_ context.Context, userID string, limit int) ([]types.Correction, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []types.Correction
	for _, c := range s.corrections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubCorrectionStore) IncrementApplied(_ context.Context, correctionID string) error {
	s.applied[correctionID]++
	return nil
}

func (s *stubCorrectionStore) DeleteCorrections(_ context.Context, userID string) error {
	var kept []types.Correction
	for _, c := range s.corrections {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	s.corrections = kept
	return nil
}

func TestIsCorrection(t *testing.T) {
	assert.True(t, IsCorrection("incorrect: the capital is Paris"))
	assert.True(t, IsCorrection("  Incorrect: with leading space"))
	assert.True(t, IsCorrection("INCORRECT: shouting"))
	assert.False(t, IsCorrection("that was incorrect: sort of"))
	assert.False(t, IsCorrection("a normal message"))
	assert.False(t, IsCorrection(""))
}

func TestLedger_Capture(t *testing.T) {
	store := newStubCorrectionStore()
	l := NewLedger(store, 3, nil, zap.NewNop())

	c, err := l.Capture(context.Background(), "alice", "conv-1", "msg-1",
		"incorrect: the capital of France is not Paris",
		map[string]any{"short_term": 4})
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "manual_user_correction", c.CorrectionType)
	// The stored text is the full message, marker included.
	assert.Equal(t, "incorrect: the capital of France is not Paris", c.UserText)
	assert.Nil(t, c.CorrectedText)
	assert.Equal(t, 0, c.AppliedCount)
	assert.Equal(t, 4, c.ContextSnapshot["short_term"])
	require.Len(t, store.corrections, 1)
}

func TestLedger_CaptureNilSnapshot(t *testing.T) {
	l := NewLedger(newStubCorrectionStore(), 3, nil, zap.NewNop())

	c, err := l.Capture(context.Background(), "alice", "conv-1", "msg-1", "incorrect: x", nil)
	require.NoError(t, err)
	assert.NotNil(t, c.ContextSnapshot)
}

func TestLedger_RetrieveConstantRelevance(t *testing.T) {
	store := newStubCorrectionStore()
	l := NewLedger(store, 3, nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Capture(ctx, "alice", "conv-1", "msg", "incorrect: mistake", nil)
		require.NoError(t, err)
	}

	scored, err := l.Retrieve(ctx, "alice", "any query")
	require.NoError(t, err)
	require.Len(t, scored, 3)
	for _, c := range scored {
		assert.Equal(t, 1.0, c.Relevance)
	}
}

type fixedReranker struct{ score float64 }

func (r fixedReranker) Rerank(_ context.Context, _ string, corrections []types.Correction) ([]types.ScoredCorrection, error) {
	out := make([]types.ScoredCorrection, 0, len(corrections))
	for _, c := range corrections {
		out = append(out, types.ScoredCorrection{Correction: c, Relevance: r.score})
	}
	return out, nil
}

func TestLedger_RerankerOverridesRelevance(t *testing.T) {
	store := newStubCorrectionStore()
	l := NewLedger(store, 3, fixedReranker{score: 0.42}, zap.NewNop())
	ctx := context.Background()

	_, err := l.Capture(ctx, "alice", "conv-1", "msg", "incorrect: mistake", nil)
	require.NoError(t, err)

	scored, err := l.Retrieve(ctx, "alice", "query")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, 0.42, scored[0].Relevance)
}

func TestLedger_MarkApplied(t *testing.T) {
	store := newStubCorrectionStore()
	l := NewLedger(store, 3, nil, zap.NewNop())
	ctx := context.Background()

	c, err := l.Capture(ctx, "alice", "conv-1", "msg", "incorrect: mistake", nil)
	require.NoError(t, err)

	l.MarkApplied(ctx, []types.ScoredCorrection{{Correction: c, Relevance: 1.0}})
	assert.Equal(t, 1, store.applied[c.ID])
}

func TestLedger_Clear(t *testing.T) {
	store := newStubCorrectionStore()
	l := NewLedger(store, 3, nil, zap.NewNop())
	ctx := context.Background()

	_, err := l.Capture(ctx, "alice", "conv-1", "msg", "incorrect: mistake", nil)
	require.NoError(t, err)
	_, err = l.Capture(ctx, "bob", "conv-2", "msg", "incorrect: other", nil)
	require.NoError(t, err)

	require.NoError(t, l.Clear(ctx, "alice"))

	scored, err := l.Retrieve(ctx, "alice", "q")
	require.NoError(t, err)
	assert.Empty(t, scored)

	scored, err = l.Retrieve(ctx, "bob", "q")
	require.NoError(t, err)
	assert.Len(t, scored, 1)
}
