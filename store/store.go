package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memchat/internal/database"
	"github.com/BaSui01/memchat/types"
)

// Trace is the domain view of one persisted request trace.
type Trace struct {
	RequestID         string
	UserID            string
	ConversationID    string
	UserMessage       string
	AssistantResponse string
	PromptTokens      int
	CompletionTokens  int
	TotalTokens       int
	LatencyMS         float64
	Provider          string
	Model             string
	MemorySnapshot    types.MemorySnapshot
	CreatedAt         time.Time
}

// Store provides repository access over the relational schema. All writes
// are independently committed; there is no cross-call transaction except
// the per-user cascade delete.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewStore creates a Store over the given pool.
func NewStore(pool *database.PoolManager, logger *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With(zap.String("component", "store")),
	}
}

// AutoMigrate creates or updates the schema.
func (s *Store) AutoMigrate() error {
	err := s.pool.DB().AutoMigrate(
		&ConversationRecord{},
		&TurnRecord{},
		&ProfileRecord{},
		&CorrectionRecord{},
		&SummaryRecord{},
		&TraceRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, conv types.Conversation) error {
	rec := ConversationRecord{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Title:          conv.Title,
		CreatedAt:      conv.CreatedAt,
	}
	if err := s.pool.DB().WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation returns a conversation by id, or (nil, nil) when absent.
func (s *Store) GetConversation(ctx context.Context, id string) (*types.Conversation, error) {
	var rec ConversationRecord
	err := s.pool.DB().WithContext(ctx).
		Where("conversation_id = ?", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &types.Conversation{
		ID:        rec.ConversationID,
		UserID:    rec.UserID,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// CreateTurn inserts a turn and bumps the conversation counters.
func (s *Store) CreateTurn(ctx context.Context, userID string, turn types.Turn) error {
	rec := TurnRecord{
		TurnID:         turn.ID,
		ConversationID: turn.ConversationID,
		UserID:         userID,
		Role:           string(turn.Role),
		Content:        turn.Content,
		TokenCount:     turn.TokenCount,
		EmbeddingID:    turn.ID,
		CreatedAt:      turn.CreatedAt,
	}
	db := s.pool.DB().WithContext(ctx)
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("create turn %s: %w", turn.ID, err)
	}

	// Counter bump is advisory; a miss here never fails the write.
	err := db.Model(&ConversationRecord{}).
		Where("conversation_id = ?", turn.ConversationID).
		UpdateColumns(map[string]any{
			"total_messages": gorm.Expr("total_messages + 1"),
			"total_tokens":   gorm.Expr("total_tokens + ?", turn.TokenCount),
		}).Error
	if err != nil {
		s.logger.Warn("failed to update conversation counters",
			zap.String("conversation_id", turn.ConversationID),
			zap.Error(err))
	}
	return nil
}

// RecentTurns returns the most recent limit turns for a conversation in
// descending creation order (newest first).
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]types.Turn, error) {
	var recs []TurnRecord
	err := s.pool.DB().WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("recent turns for %s: %w", conversationID, err)
	}

	turns := make([]types.Turn, 0, len(recs))
	for _, rec := range recs {
		turns = append(turns, types.Turn{
			ID:             rec.TurnID,
			ConversationID: rec.ConversationID,
			Role:           types.Role(rec.Role),
			Content:        rec.Content,
			TokenCount:     rec.TokenCount,
			CreatedAt:      rec.CreatedAt,
		})
	}
	return turns, nil
}

// GetProfile returns the stored profile for a user. The second return value
// reports whether a row existed.
func (s *Store) GetProfile(ctx context.Context, userID string) (types.Profile, bool, error) {
	var rec ProfileRecord
	err := s.pool.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Profile{}, false, nil
	}
	if err != nil {
		return types.Profile{}, false, fmt.Errorf("get profile for %s: %w", userID, err)
	}

	var profile types.Profile
	if err := json.Unmarshal([]byte(rec.ProfileData), &profile); err != nil {
		return types.Profile{}, false, fmt.Errorf("decode profile for %s: %w", userID, err)
	}
	return profile, true, nil
}

// UpsertProfile writes the profile for a user, inserting or updating the
// single row.
func (s *Store) UpsertProfile(ctx context.Context, userID string, profile types.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile for %s: %w", userID, err)
	}

	db := s.pool.DB().WithContext(ctx)
	res := db.Model(&ProfileRecord{}).
		Where("user_id = ?", userID).
		Update("profile_data", string(data))
	if res.Error != nil {
		return fmt.Errorf("update profile for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		rec := ProfileRecord{UserID: userID, ProfileData: string(data)}
		if err := db.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert profile for %s: %w", userID, err)
		}
	}
	return nil
}

// CreateCorrection inserts a correction record.
func (s *Store) CreateCorrection(ctx context.Context, c types.Correction) error {
	snapshot, err := json.Marshal(c.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("encode context snapshot for %s: %w", c.ID, err)
	}
	rec := CorrectionRecord{
		CorrectionID:    c.ID,
		UserID:          c.UserID,
		ConversationID:  c.ConversationID,
		MessageID:       c.MessageID,
		CorrectionType:  c.CorrectionType,
		UserText:        c.UserText,
		CorrectedText:   c.CorrectedText,
		ContextSnapshot: string(snapshot),
		AppliedCount:    c.AppliedCount,
		CreatedAt:       c.CreatedAt,
	}
	if err := s.pool.DB().WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create correction %s: %w", c.ID, err)
	}
	return nil
}

// RecentCorrections returns the most recent limit corrections for a user,
// newest first.
func (s *Store) RecentCorrections(ctx context.Context, userID string, limit int) ([]types.Correction, error) {
	var recs []CorrectionRecord
	err := s.pool.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("recent corrections for %s: %w", userID, err)
	}

	corrections := make([]types.Correction, 0, len(recs))
	for _, rec := range recs {
		var snapshot map[string]any
		if rec.ContextSnapshot != "" {
			// Snapshot decode failure degrades to an empty snapshot rather
			// than dropping the correction.
			_ = json.Unmarshal([]byte(rec.ContextSnapshot), &snapshot)
		}
		corrections = append(corrections, types.Correction{
			ID:              rec.CorrectionID,
			UserID:          rec.UserID,
			ConversationID:  rec.ConversationID,
			MessageID:       rec.MessageID,
			CorrectionType:  rec.CorrectionType,
			UserText:        rec.UserText,
			CorrectedText:   rec.CorrectedText,
			ContextSnapshot: snapshot,
			AppliedCount:    rec.AppliedCount,
			CreatedAt:       rec.CreatedAt,
		})
	}
	return corrections, nil
}

// IncrementApplied bumps a correction's applied counter.
func (s *Store) IncrementApplied(ctx context.Context, correctionID string) error {
	err := s.pool.DB().WithContext(ctx).
		Model(&CorrectionRecord{}).
		Where("correction_id = ?", correctionID).
		UpdateColumn("applied_count", gorm.Expr("applied_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment applied for %s: %w", correctionID, err)
	}
	return nil
}

// DeleteCorrections removes all corrections for a user.
func (s *Store) DeleteCorrections(ctx context.Context, userID string) error {
	err := s.pool.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&CorrectionRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete corrections for %s: %w", userID, err)
	}
	return nil
}

// LatestSummary returns the newest summary for a conversation, or nil when
// none exists.
func (s *Store) LatestSummary(ctx context.Context, conversationID string) (*types.ConversationSummary, error) {
	var rec SummaryRecord
	err := s.pool.DB().WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary for %s: %w", conversationID, err)
	}
	return &types.ConversationSummary{
		Text:       rec.SummaryText,
		RangeStart: rec.MessageRangeStart,
		RangeEnd:   rec.MessageRangeEnd,
	}, nil
}

// CreateTrace persists one request trace with the serialized snapshot.
func (s *Store) CreateTrace(ctx context.Context, t Trace) error {
	snapshot, err := json.Marshal(t.MemorySnapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot for trace %s: %w", t.RequestID, err)
	}
	rec := TraceRecord{
		RequestID:         t.RequestID,
		UserID:            t.UserID,
		ConversationID:    t.ConversationID,
		UserMessage:       t.UserMessage,
		AssistantResponse: t.AssistantResponse,
		PromptTokens:      t.PromptTokens,
		CompletionTokens:  t.CompletionTokens,
		TotalTokens:       t.TotalTokens,
		LatencyMS:         t.LatencyMS,
		Provider:          t.Provider,
		Model:             t.Model,
		MemorySnapshot:    string(snapshot),
		CreatedAt:         t.CreatedAt,
	}
	if err := s.pool.DB().WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create trace %s: %w", t.RequestID, err)
	}
	return nil
}

// CountTraces returns the number of traces stored for a user.
func (s *Store) CountTraces(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.pool.DB().WithContext(ctx).
		Model(&TraceRecord{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count traces for %s: %w", userID, err)
	}
	return n, nil
}

// DeleteUserData removes every row belonging to a user across all tables in
// one transaction (per-user cascade delete).
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var convIDs []string
		if err := tx.Model(&ConversationRecord{}).
			Where("user_id = ?", userID).
			Pluck("conversation_id", &convIDs).Error; err != nil {
			return err
		}

		if len(convIDs) > 0 {
			if err := tx.Where("conversation_id IN ?", convIDs).Delete(&SummaryRecord{}).Error; err != nil {
				return err
			}
		}
		for _, model := range []any{
			&TurnRecord{}, &CorrectionRecord{}, &TraceRecord{},
			&ProfileRecord{}, &ConversationRecord{},
		} {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
