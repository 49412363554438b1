package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/types"
)

// correctionMarker is the prefix that flags a user message as a correction
// of the previous assistant response. Matched case-insensitively after
// trimming whitespace.
const correctionMarker = "incorrect:"

// manualCorrectionType labels corrections captured from user messages.
const manualCorrectionType = "manual_user_correction"

// CorrectionStore is the store surface the feedback tier needs.
type CorrectionStore interface {
	CreateCorrection(ctx context.Context, c types.Correction) error
	RecentCorrections(ctx context.Context, userID string, limit int) ([]types.Correction, error)
	IncrementApplied(ctx context.Context, correctionID string) error
	DeleteCorrections(ctx context.Context, userID string) error
}

// Reranker scores retrieved corrections against the current query. The
// default ledger assigns every correction the constant relevance 1.0; a
// Reranker replaces that with real scores without changing retrieval.
type Reranker interface {
	Rerank(ctx context.Context, query string, corrections []types.Correction) ([]types.ScoredCorrection, error)
}

// IsCorrection reports whether a user message carries the correction marker.
func IsCorrection(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), correctionMarker)
}

// Ledger is the feedback tier: durable correction records retrieved newest
// first with a relevance score.
type Ledger struct {
	store    CorrectionStore
	limit    int
	reranker Reranker
	logger   *zap.Logger
}

// NewLedger creates the feedback tier. reranker may be nil.
func NewLedger(store CorrectionStore, limit int, reranker Reranker, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:    store,
		limit:    limit,
		reranker: reranker,
		logger:   logger.With(zap.String("tier", "feedback")),
	}
}

// Capture stores a correction from a flagged user message. The full message
// is kept as UserText, marker included, so the prompt later replays exactly
// what the user said. snapshot carries whatever request context should
// travel with the record.
func (l *Ledger) Capture(ctx context.Context, userID, conversationID, messageID, userText string, snapshot map[string]any) (types.Correction, error) {
	correction := types.Correction{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		CorrectionType: manualCorrectionType,
		UserText:       userText,
		CorrectedText:  nil,
		ContextSnapshot: func() map[string]any {
			if snapshot == nil {
				return map[string]any{}
			}
			return snapshot
		}(),
		AppliedCount: 0,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.store.CreateCorrection(ctx, correction); err != nil {
		return types.Correction{}, err
	}
	return correction, nil
}

// Retrieve returns up to the configured limit of the user's most recent
// corrections, newest first, each carrying a relevance score.
func (l *Ledger) Retrieve(ctx context.Context, userID, query string) ([]types.ScoredCorrection, error) {
	corrections, err := l.store.RecentCorrections(ctx, userID, l.limit)
	if err != nil {
		return nil, err
	}

	if l.reranker != nil {
		scored, err := l.reranker.Rerank(ctx, query, corrections)
		if err == nil {
			return scored, nil
		}
		// Reranker failure falls back to the constant score.
		l.logger.Warn("reranker failed, using constant relevance", zap.Error(err))
	}

	scored := make([]types.ScoredCorrection, 0, len(corrections))
	for _, c := range corrections {
		scored = append(scored, types.ScoredCorrection{Correction: c, Relevance: 1.0})
	}
	return scored, nil
}

// MarkApplied bumps the applied counter for each correction that made it
// into an assembled prompt. Best effort: a miss is logged, not returned.
func (l *Ledger) MarkApplied(ctx context.Context, corrections []types.ScoredCorrection) {
	for _, c := range corrections {
		if err := l.store.IncrementApplied(ctx, c.ID); err != nil {
			l.logger.Warn("failed to bump applied count",
				zap.String("correction_id", c.ID),
				zap.Error(err))
		}
	}
}

// Clear removes all corrections for a user.
func (l *Ledger) Clear(ctx context.Context, userID string) error {
	return l.store.DeleteCorrections(ctx, userID)
}
