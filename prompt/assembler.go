// Package prompt assembles the layered prompt from a memory snapshot under
// a fixed token budget.
package prompt

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/tokenizer"
	"github.com/BaSui01/memchat/types"
)

// Layer names in assembly order. Higher layers are more important; only the
// two lowest-priority content layers are ever trimmed.
const (
	LayerSystemInstructions  = "system_instructions"
	LayerUserProfile         = "user_profile"
	LayerFeedbackCorrections = "feedback_corrections"
	LayerConversationSummary = "conversation_summary"
	LayerSemanticContext     = "semantic_context"
	LayerRecentMessages      = "recent_messages"
	LayerCurrentMessage      = "current_message"
)

var layerOrder = []string{
	LayerSystemInstructions,
	LayerUserProfile,
	LayerFeedbackCorrections,
	LayerConversationSummary,
	LayerSemanticContext,
	LayerRecentMessages,
	LayerCurrentMessage,
}

const systemInstructions = `You are a helpful AI assistant with persistent memory.

Key capabilities:
- You remember user preferences and past conversations
- You learn from corrections and feedback
- You provide context-aware responses

Important guidelines:
- If you're unsure, say so
- Reference past conversations when relevant
- Acknowledge when you've been corrected before`

// MaxFeedbackEntries is how many corrections render into the feedback layer.
// Only corrections that actually render count as applied.
const MaxFeedbackEntries = 3

// Rendering caps within individual layers.
const (
	maxSemanticEntries = 3
	semanticExcerptLen = 200
	maxRecentMessages  = 10
)

// Result is one assembled prompt with its per-layer token breakdown.
type Result struct {
	Prompt string
	// Breakdown maps layer name to token count, recomputed after any trim.
	Breakdown map[string]int
	// TotalTokens is the sum over Breakdown.
	TotalTokens int
	// Trimmed reports whether any layer was cut to fit the budget.
	Trimmed bool
}

// Assembler renders the seven prompt layers and enforces the token budget.
type Assembler struct {
	cfg     config.PromptConfig
	counter *tokenizer.Counter
	logger  *zap.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg config.PromptConfig, counter *tokenizer.Counter, logger *zap.Logger) *Assembler {
	return &Assembler{
		cfg:     cfg,
		counter: counter,
		logger:  logger.With(zap.String("component", "assembler")),
	}
}

// Assemble renders all layers from the snapshot, trims to the budget when
// necessary, and returns the joined prompt with its breakdown. A snapshot
// that fits the budget is returned byte-identical to the untrimmed render.
func (a *Assembler) Assemble(snapshot types.MemorySnapshot, userMessage string) Result {
	layers := map[string]string{
		LayerSystemInstructions:  systemInstructions,
		LayerUserProfile:         renderProfile(snapshot.Profile),
		LayerFeedbackCorrections: renderFeedback(snapshot.Feedback),
		LayerConversationSummary: renderSummary(snapshot.Recency.Summary),
		LayerSemanticContext:     renderSemantic(snapshot.Semantic),
		LayerRecentMessages:      renderRecent(snapshot.Recency.Turns),
		LayerCurrentMessage:      fmt.Sprintf("\n\nUser: %s\n\nAssistant:", userMessage),
	}

	breakdown := make(map[string]int, len(layers))
	total := 0
	for name, content := range layers {
		n := a.counter.Count(content)
		breakdown[name] = n
		total += n
	}

	budget := a.cfg.MaxContextWindow - a.cfg.ResponseReserve
	if total <= budget {
		return Result{
			Prompt:      join(layers),
			Breakdown:   breakdown,
			TotalTokens: total,
		}
	}

	a.logger.Warn("prompt exceeds budget, trimming layers",
		zap.Int("total_tokens", total),
		zap.Int("budget", budget))

	// Trim pass one: semantic context down to its allocation.
	if breakdown[LayerSemanticContext] > a.cfg.Allocations.SemanticContext {
		layers[LayerSemanticContext] = a.counter.Truncate(
			layers[LayerSemanticContext], a.cfg.Allocations.SemanticContext)
	}

	// Trim pass two: recent messages, only if still over budget.
	afterFirst := 0
	for _, content := range layers {
		afterFirst += a.counter.Count(content)
	}
	if afterFirst > budget {
		layers[LayerRecentMessages] = a.counter.Truncate(
			layers[LayerRecentMessages], a.cfg.Allocations.RecentMessages)
	}

	final := make(map[string]int, len(layers))
	total = 0
	for name, content := range layers {
		n := a.counter.Count(content)
		final[name] = n
		total += n
	}

	return Result{
		Prompt:      join(layers),
		Breakdown:   final,
		TotalTokens: total,
		Trimmed:     true,
	}
}

// Budget returns the usable prompt budget in tokens.
func (a *Assembler) Budget() int {
	return a.cfg.MaxContextWindow - a.cfg.ResponseReserve
}

func join(layers map[string]string) string {
	parts := make([]string, 0, len(layerOrder))
	for _, name := range layerOrder {
		if layers[name] != "" {
			parts = append(parts, layers[name])
		}
	}
	return strings.Join(parts, "\n")
}

func renderProfile(tier types.ProfileTier) string {
	if tier.Status == types.TierDegraded {
		return ""
	}
	prefs := tier.Profile.Preferences
	context := tier.Profile.Context
	if len(prefs) == 0 && len(context) == 0 {
		return ""
	}

	return fmt.Sprintf(`

## User Profile
- Communication style: %s
- Expertise level: %s
- Interests: %s
- Context: %s`,
		stringValue(prefs, "communication_style", "balanced"),
		stringValue(prefs, "expertise_level", "intermediate"),
		joinList(prefs["topics_of_interest"]),
		stringValue(context, "occupation", "Not specified"))
}

func renderFeedback(tier types.FeedbackTier) string {
	if len(tier.Corrections) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n## Past Corrections (Learn from these)")
	for i, c := range tier.Corrections {
		if i >= MaxFeedbackEntries {
			break
		}
		corrected := "N/A"
		if c.CorrectedText != nil {
			corrected = *c.CorrectedText
		}
		fmt.Fprintf(&b, "\n- Previous mistake: %s\n- Correct approach: %s", c.UserText, corrected)
	}
	return b.String()
}

func renderSummary(summary *types.ConversationSummary) string {
	if summary == nil || summary.Text == "" {
		return ""
	}
	return fmt.Sprintf(`

## Conversation Summary
%s
(Covers messages %d to %d)`, summary.Text, summary.RangeStart, summary.RangeEnd)
}

func renderSemantic(tier types.SemanticTier) string {
	if len(tier.Matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n## Relevant Past Conversations")
	for i, m := range tier.Matches {
		if i >= maxSemanticEntries {
			break
		}
		title := m.Metadata["conversation_title"]
		if title == "" {
			title = "Untitled"
		}
		content := m.Content
		// Cut on a rune boundary so multi-byte text stays valid.
		if runes := []rune(content); len(runes) > semanticExcerptLen {
			content = string(runes[:semanticExcerptLen])
		}
		fmt.Fprintf(&b, "\n- [%s] (Similarity: %.2f)\n  %s...", title, m.Score, content)
	}
	return b.String()
}

func renderRecent(turns []types.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > maxRecentMessages {
		turns = turns[len(turns)-maxRecentMessages:]
	}

	var b strings.Builder
	b.WriteString("\n\n## Recent Conversation")
	for _, t := range turns {
		role := "Assistant"
		if t.Role == types.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&b, "\n%s: %s\n", role, t.Content)
	}
	return b.String()
}

func stringValue(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func joinList(v any) string {
	items, ok := v.([]any)
	if !ok {
		if strs, ok := v.([]string); ok {
			return strings.Join(strs, ", ")
		}
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
