package prompt

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/tokenizer"
	"github.com/BaSui01/memchat/types"
)

func testPromptConfig() config.PromptConfig {
	return config.PromptConfig{
		MaxContextWindow: 4096,
		ResponseReserve:  1000,
		Allocations: config.AllocationConfig{
			SystemInstructions:  300,
			UserProfile:         200,
			FeedbackCorrections: 150,
			ConversationSummary: 250,
			SemanticContext:     400,
			RecentMessages:      800,
			CurrentMessage:      200,
		},
	}
}

func newTestAssembler(t *testing.T, cfg config.PromptConfig) *Assembler {
	t.Helper()
	return NewAssembler(cfg, tokenizer.NewCounter("gpt-3.5-turbo", zap.NewNop()), zap.NewNop())
}

func fullSnapshot() types.MemorySnapshot {
	corrected := "say Lyon"
	snapshot := types.EmptySnapshot()
	snapshot.Profile = types.ProfileTier{
		Status: types.TierOK,
		Profile: types.Profile{
			Preferences: map[string]any{
				"communication_style": "concise",
				"expertise_level":     "expert",
				"topics_of_interest":  []any{"go", "databases"},
			},
			Context: map[string]any{"occupation": "engineer"},
		},
	}
	snapshot.Feedback = types.FeedbackTier{
		Status: types.TierOK,
		Corrections: []types.ScoredCorrection{
			{Correction: types.Correction{UserText: "I live in Lyon", CorrectedText: &corrected}, Relevance: 1.0},
			{Correction: types.Correction{UserText: "my name is Ana"}, Relevance: 1.0},
		},
	}
	snapshot.Recency = types.RecencyTier{
		Status: types.TierOK,
		Turns: []types.Turn{
			{Role: types.RoleUser, Content: "what is a goroutine?"},
			{Role: types.RoleAssistant, Content: "a lightweight thread"},
		},
		Summary: &types.ConversationSummary{Text: "intro to Go concurrency", RangeStart: 1, RangeEnd: 12},
	}
	snapshot.Semantic = types.SemanticTier{
		Status: types.TierOK,
		Matches: []types.SemanticMatch{
			{Content: "channels connect goroutines", Metadata: map[string]string{"conversation_title": "Go basics"}, Score: 0.91},
		},
	}
	return snapshot
}

func TestAssemble_LayerOrderAndContent(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	res := a.Assemble(fullSnapshot(), "tell me about channels")
	p := res.Prompt

	// All seven layers render and appear in order.
	markers := []string{
		"You are a helpful AI assistant with persistent memory.",
		"## User Profile",
		"## Past Corrections (Learn from these)",
		"## Conversation Summary",
		"## Relevant Past Conversations",
		"## Recent Conversation",
		"User: tell me about channels",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(p, m)
		require.GreaterOrEqual(t, idx, 0, "missing marker %q", m)
		assert.Greater(t, idx, last, "marker %q out of order", m)
		last = idx
	}

	assert.Contains(t, p, "- Communication style: concise")
	assert.Contains(t, p, "- Interests: go, databases")
	assert.Contains(t, p, "- Context: engineer")
	assert.Contains(t, p, "- Previous mistake: I live in Lyon\n- Correct approach: say Lyon")
	assert.Contains(t, p, "- Correct approach: N/A")
	assert.Contains(t, p, "intro to Go concurrency\n(Covers messages 1 to 12)")
	assert.Contains(t, p, "- [Go basics] (Similarity: 0.91)")
	assert.Contains(t, p, "channels connect goroutines...")
	assert.Contains(t, p, "\nUser: what is a goroutine?\n")
	assert.Contains(t, p, "\nAssistant: a lightweight thread\n")
	assert.True(t, strings.HasSuffix(p, "\n\nAssistant:"))

	assert.False(t, res.Trimmed)
	assert.Equal(t, res.TotalTokens, sum(res.Breakdown))
}

func TestAssemble_EmptyTiersOmitLayers(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	res := a.Assemble(types.EmptySnapshot(), "hello")
	p := res.Prompt

	assert.NotContains(t, p, "## Past Corrections")
	assert.NotContains(t, p, "## Conversation Summary")
	assert.NotContains(t, p, "## Relevant Past Conversations")
	assert.NotContains(t, p, "## Recent Conversation")
	// System instructions and the current message always render.
	assert.Contains(t, p, "You are a helpful AI assistant")
	assert.True(t, strings.HasSuffix(p, "\n\nUser: hello\n\nAssistant:"))
}

func TestAssemble_DegradedProfileOmitted(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	snapshot := types.EmptySnapshot()
	snapshot.Profile = types.ProfileTier{Status: types.TierDegraded, Profile: types.DefaultProfile()}

	res := a.Assemble(snapshot, "hello")
	assert.NotContains(t, res.Prompt, "## User Profile")
}

func TestAssemble_UnderBudgetIsStable(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())
	snapshot := fullSnapshot()

	first := a.Assemble(snapshot, "hello")
	second := a.Assemble(snapshot, "hello")
	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, first.Breakdown, second.Breakdown)
}

func TestAssemble_FeedbackCapsAtThree(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	snapshot := types.EmptySnapshot()
	for i := 0; i < 5; i++ {
		snapshot.Feedback.Corrections = append(snapshot.Feedback.Corrections,
			types.ScoredCorrection{
				Correction: types.Correction{UserText: fmt.Sprintf("mistake-%d", i)},
				Relevance:  1.0,
			})
	}

	p := a.Assemble(snapshot, "hello").Prompt
	assert.Contains(t, p, "mistake-0")
	assert.Contains(t, p, "mistake-2")
	assert.NotContains(t, p, "mistake-3")
}

func TestAssemble_RecentCapsAtTen(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	snapshot := types.EmptySnapshot()
	for i := 0; i < 15; i++ {
		snapshot.Recency.Turns = append(snapshot.Recency.Turns, types.Turn{
			Role: types.RoleUser, Content: fmt.Sprintf("turn-%d", i),
		})
	}

	p := a.Assemble(snapshot, "hello").Prompt
	assert.NotContains(t, p, "turn-4\n")
	assert.Contains(t, p, "turn-5")
	assert.Contains(t, p, "turn-14")
}

func TestAssemble_SemanticExcerptTruncated(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	long := strings.Repeat("x", 500)
	snapshot := types.EmptySnapshot()
	snapshot.Semantic.Matches = []types.SemanticMatch{{Content: long, Score: 0.8}}

	p := a.Assemble(snapshot, "hello").Prompt
	assert.Contains(t, p, "[Untitled]")
	assert.Contains(t, p, strings.Repeat("x", 200)+"...")
	assert.NotContains(t, p, strings.Repeat("x", 201))
}

func TestAssemble_SemanticExcerptKeepsRunesIntact(t *testing.T) {
	a := newTestAssembler(t, testPromptConfig())

	long := strings.Repeat("日本語テキスト", 50)
	snapshot := types.EmptySnapshot()
	snapshot.Semantic.Matches = []types.SemanticMatch{{Content: long, Score: 0.8}}

	p := a.Assemble(snapshot, "hello").Prompt
	assert.True(t, utf8.ValidString(p))
	assert.Contains(t, p, string([]rune(long)[:200])+"...")
}

func TestAssemble_TrimsSemanticThenRecent(t *testing.T) {
	cfg := testPromptConfig()
	// Force trimming with a tiny budget.
	cfg.MaxContextWindow = 400
	cfg.ResponseReserve = 100
	cfg.Allocations.SemanticContext = 20
	cfg.Allocations.RecentMessages = 60
	a := newTestAssembler(t, cfg)

	snapshot := types.EmptySnapshot()
	snapshot.Semantic.Matches = []types.SemanticMatch{
		{Content: strings.Repeat("semantic recall content ", 40), Score: 0.9},
	}
	for i := 0; i < 10; i++ {
		snapshot.Recency.Turns = append(snapshot.Recency.Turns, types.Turn{
			Role: types.RoleUser, Content: strings.Repeat("recent words ", 20),
		})
	}

	res := a.Assemble(snapshot, "hello")

	assert.True(t, res.Trimmed)
	assert.LessOrEqual(t, res.Breakdown[LayerSemanticContext], cfg.Allocations.SemanticContext)
	assert.LessOrEqual(t, res.Breakdown[LayerRecentMessages], cfg.Allocations.RecentMessages)
	assert.Equal(t, res.TotalTokens, sum(res.Breakdown))
	// Untrimmed layers keep their content.
	assert.Contains(t, res.Prompt, "You are a helpful AI assistant")
	assert.True(t, strings.HasSuffix(res.Prompt, "\n\nAssistant:"))
}

func TestAssemble_TrimLeavesRecentWhenSemanticEnough(t *testing.T) {
	cfg := testPromptConfig()
	cfg.MaxContextWindow = 4096
	cfg.ResponseReserve = 3500
	// Budget 596: system (~70) + huge semantic pushes over; trimming semantic
	// to 400 brings the total back under budget, so recent stays whole.
	a := newTestAssembler(t, cfg)

	snapshot := types.EmptySnapshot()
	snapshot.Semantic.Matches = []types.SemanticMatch{
		{Content: strings.Repeat("overlong semantic context ", 80), Score: 0.9},
	}
	snapshot.Recency.Turns = []types.Turn{{Role: types.RoleUser, Content: "short turn"}}

	res := a.Assemble(snapshot, "hello")
	if res.Trimmed {
		assert.Contains(t, res.Prompt, "short turn")
	}
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}
