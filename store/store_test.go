package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/internal/database"
	"github.com/BaSui01/memchat/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	pool, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    ":memory:",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	st := NewStore(pool, zap.NewNop())
	require.NoError(t, st.AutoMigrate())
	return st
}

func newTurn(conversationID string, role types.Role, content string, tokens int) types.Turn {
	return types.Turn{
		ID:             content + "-id",
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokenCount:     tokens,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestStore_ConversationLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv := types.Conversation{
		ID:        "conv-1",
		UserID:    "alice",
		Title:     "What is Go?",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateConversation(ctx, conv))

	got, err := st.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "What is Go?", got.Title)

	absent, err := st.GetConversation(ctx, "no-such-conv")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestStore_TurnsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, types.Conversation{
		ID: "conv-1", UserID: "alice", CreatedAt: time.Now().UTC(),
	}))

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"first", "second", "third"} {
		turn := newTurn("conv-1", types.RoleUser, content, 5)
		turn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.CreateTurn(ctx, "alice", turn))
	}

	turns, err := st.RecentTurns(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "third", turns[0].Content)
	assert.Equal(t, "second", turns[1].Content)
}

func TestStore_TurnBumpsConversationCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateConversation(ctx, types.Conversation{
		ID: "conv-1", UserID: "alice", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.CreateTurn(ctx, "alice", newTurn("conv-1", types.RoleUser, "hello", 7)))
	require.NoError(t, st.CreateTurn(ctx, "alice", newTurn("conv-1", types.RoleAssistant, "hi", 3)))

	var rec ConversationRecord
	require.NoError(t, st.pool.DB().Where("conversation_id = ?", "conv-1").First(&rec).Error)
	assert.Equal(t, 2, rec.TotalMessages)
	assert.Equal(t, 10, rec.TotalTokens)
}

func TestStore_ProfileUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, found, err := st.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	profile := types.DefaultProfile()
	require.NoError(t, st.UpsertProfile(ctx, "alice", profile))

	got, found, err := st.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "balanced", got.Preferences["communication_style"])

	// Second upsert updates the same row.
	profile.Preferences["communication_style"] = "concise"
	require.NoError(t, st.UpsertProfile(ctx, "alice", profile))

	got, found, err = st.GetProfile(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "concise", got.Preferences["communication_style"])
}

func TestStore_Corrections(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.CreateCorrection(ctx, types.Correction{
			ID:              string(rune('a'+i)) + "-corr",
			UserID:          "alice",
			ConversationID:  "conv-1",
			MessageID:       "msg-1",
			CorrectionType:  "manual_user_correction",
			UserText:        "the capital is Paris",
			ContextSnapshot: map[string]any{"short_term": float64(i)},
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}))
	}

	corrections, err := st.RecentCorrections(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, corrections, 3)
	// Newest first.
	assert.Equal(t, "e-corr", corrections[0].ID)
	assert.Equal(t, 0, corrections[0].AppliedCount)

	require.NoError(t, st.IncrementApplied(ctx, "e-corr"))
	require.NoError(t, st.IncrementApplied(ctx, "e-corr"))

	corrections, err = st.RecentCorrections(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, 2, corrections[0].AppliedCount)

	require.NoError(t, st.DeleteCorrections(ctx, "alice"))
	corrections, err = st.RecentCorrections(ctx, "alice", 3)
	require.NoError(t, err)
	assert.Empty(t, corrections)
}

func TestStore_LatestSummary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.LatestSummary(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	base := time.Now().UTC().Add(-time.Hour)
	for i, text := range []string{"old summary", "new summary"} {
		require.NoError(t, st.pool.DB().Create(&SummaryRecord{
			SummaryID:         text,
			ConversationID:    "conv-1",
			SummaryText:       text,
			MessageRangeStart: 1,
			MessageRangeEnd:   10 + i,
			CreatedAt:         base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	got, err = st.LatestSummary(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new summary", got.Text)
	assert.Equal(t, 11, got.RangeEnd)
}

func TestStore_TraceRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	snapshot := types.EmptySnapshot()
	snapshot.Recency.Turns = []types.Turn{newTurn("conv-1", types.RoleUser, "hi", 1)}

	require.NoError(t, st.CreateTrace(ctx, Trace{
		RequestID:         "req-1",
		UserID:            "alice",
		ConversationID:    "conv-1",
		UserMessage:       "hi",
		AssistantResponse: "hello",
		PromptTokens:      100,
		CompletionTokens:  20,
		TotalTokens:       120,
		LatencyMS:         42.5,
		Provider:          "mock",
		Model:             "mock-model",
		MemorySnapshot:    snapshot,
		CreatedAt:         time.Now().UTC(),
	}))

	n, err := st.CountTraces(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var rec TraceRecord
	require.NoError(t, st.pool.DB().Where("request_id = ?", "req-1").First(&rec).Error)
	assert.Contains(t, rec.MemorySnapshot, `"hi"`)
	assert.Equal(t, 120, rec.TotalTokens)
}

func TestStore_DeleteUserDataCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := func(userID, convID string) {
		require.NoError(t, st.CreateConversation(ctx, types.Conversation{
			ID: convID, UserID: userID, CreatedAt: time.Now().UTC(),
		}))
		turn := newTurn(convID, types.RoleUser, convID+"-turn", 5)
		require.NoError(t, st.CreateTurn(ctx, userID, turn))
		require.NoError(t, st.CreateCorrection(ctx, types.Correction{
			ID: convID + "-corr", UserID: userID, ConversationID: convID,
			MessageID: "m", CorrectionType: "manual_user_correction",
			CreatedAt: time.Now().UTC(),
		}))
		require.NoError(t, st.UpsertProfile(ctx, userID, types.DefaultProfile()))
		require.NoError(t, st.pool.DB().Create(&SummaryRecord{
			SummaryID: convID + "-sum", ConversationID: convID,
			SummaryText: "s", MessageRangeStart: 1, MessageRangeEnd: 2,
			CreatedAt: time.Now().UTC(),
		}).Error)
		require.NoError(t, st.CreateTrace(ctx, Trace{
			RequestID: convID + "-trace", UserID: userID, ConversationID: convID,
			UserMessage: "u", AssistantResponse: "a",
			MemorySnapshot: types.EmptySnapshot(), CreatedAt: time.Now().UTC(),
		}))
	}

	seed("alice", "conv-a")
	seed("bob", "conv-b")

	require.NoError(t, st.DeleteUserData(ctx, "alice"))

	// Alice is gone everywhere.
	conv, err := st.GetConversation(ctx, "conv-a")
	require.NoError(t, err)
	assert.Nil(t, conv)

	_, found, err := st.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, found)

	n, err := st.CountTraces(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	var summaries int64
	require.NoError(t, st.pool.DB().Model(&SummaryRecord{}).
		Where("conversation_id = ?", "conv-a").Count(&summaries).Error)
	assert.Zero(t, summaries)

	// Bob is untouched.
	conv, err = st.GetConversation(ctx, "conv-b")
	require.NoError(t, err)
	assert.NotNil(t, conv)

	_, found, err = st.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, found)
}
