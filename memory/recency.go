// Package memory implements the four memory tiers and the coordinator that
// aggregates them into a per-request snapshot.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/memchat/types"
)

// TurnLoader is the store surface the recency tier needs for backfill.
type TurnLoader interface {
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]types.Turn, error)
	LatestSummary(ctx context.Context, conversationID string) (*types.ConversationSummary, error)
}

// Window is the recent-turn cache: a bounded per-conversation FIFO kept in
// process, backfilled from the durable store on a cold start. Evicted turns
// are never lost; they remain in the store and the semantic index.
type Window struct {
	mu       sync.RWMutex
	maxTurns int
	loader   TurnLoader
	logger   *zap.Logger
	turns    map[string][]types.Turn
}

// NewWindow creates a recency window holding at most maxTurns per
// conversation.
func NewWindow(maxTurns int, loader TurnLoader, logger *zap.Logger) *Window {
	return &Window{
		maxTurns: maxTurns,
		loader:   loader,
		logger:   logger.With(zap.String("tier", "recency")),
		turns:    make(map[string][]types.Turn),
	}
}

// Put appends a turn to the conversation's window, evicting the oldest
// entry once the window is full.
func (w *Window) Put(turn types.Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	window := append(w.turns[turn.ConversationID], turn)
	if len(window) > w.maxTurns {
		window = window[len(window)-w.maxTurns:]
	}
	w.turns[turn.ConversationID] = window
}

// Recent returns up to limit turns for the conversation in chronological
// order, plus the latest summary when one exists. A cold window is
// backfilled from the store before answering.
func (w *Window) Recent(ctx context.Context, conversationID string, limit int) ([]types.Turn, *types.ConversationSummary, error) {
	w.mu.RLock()
	cached, ok := w.turns[conversationID]
	w.mu.RUnlock()

	if !ok {
		loaded, err := w.loader.RecentTurns(ctx, conversationID, w.maxTurns)
		if err != nil {
			return nil, nil, err
		}
		// The store returns newest first; the window keeps chronological order.
		cached = make([]types.Turn, 0, len(loaded))
		for i := len(loaded) - 1; i >= 0; i-- {
			cached = append(cached, loaded[i])
		}
		w.mu.Lock()
		if _, raced := w.turns[conversationID]; !raced {
			w.turns[conversationID] = cached
		} else {
			cached = w.turns[conversationID]
		}
		w.mu.Unlock()
	}

	if limit > 0 && len(cached) > limit {
		cached = cached[len(cached)-limit:]
	}
	turns := make([]types.Turn, len(cached))
	copy(turns, cached)

	summary, err := w.loader.LatestSummary(ctx, conversationID)
	if err != nil {
		// Summary is an enrichment; its failure never fails the tier.
		w.logger.Warn("failed to load conversation summary",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		summary = nil
	}
	return turns, summary, nil
}

// ShouldSummarize reports whether the window's token total exceeds
// thresholdTokens, signaling that older turns are due for condensation.
func (w *Window) ShouldSummarize(conversationID string, thresholdTokens int) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	total := 0
	for _, turn := range w.turns[conversationID] {
		total += turn.TokenCount
	}
	return total > thresholdTokens
}

// Clear drops the window for one conversation.
func (w *Window) Clear(conversationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.turns, conversationID)
}

// Len reports the current window size for a conversation.
func (w *Window) Len(conversationID string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.turns[conversationID])
}
