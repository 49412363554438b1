package types

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are immutable once persisted;
// cached copies are plain value snapshots, never references into a store.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	TokenCount     int       `json:"token_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation groups turns for one user. Created lazily on the first turn
// when the caller supplies no conversation id.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the long-term memory for one user. Nested map fields are
// deep-merged on update; scalar and list values are replaced wholesale.
type Profile struct {
	Preferences      map[string]any `json:"preferences"`
	BehaviorPatterns map[string]any `json:"behavior_patterns"`
	Context          map[string]any `json:"context"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// DefaultProfile returns the fixed bootstrap shape created on first access.
func DefaultProfile() Profile {
	return Profile{
		Preferences: map[string]any{
			"communication_style": "balanced",
			"expertise_level":     "intermediate",
			"topics_of_interest":  []any{},
		},
		BehaviorPatterns: map[string]any{
			"typical_session_length":    0,
			"preferred_response_length": "medium",
			"frequently_asked_topics":   []any{},
		},
		Context: map[string]any{
			"occupation": nil,
			"timezone":   "UTC",
			"language":   "en",
		},
		LastUpdated: time.Now().UTC(),
	}
}

// SemanticMatch is one nearest-neighbor hit from the semantic tier.
type SemanticMatch struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float32           `json:"similarity_score"`
}

// Correction is a stored user correction. AppliedCount is monotonically
// non-decreasing and starts at 0.
type Correction struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	ConversationID  string         `json:"conversation_id"`
	MessageID       string         `json:"message_id"`
	CorrectionType  string         `json:"correction_type"`
	UserText        string         `json:"user_text"`
	CorrectedText   *string        `json:"corrected_text,omitempty"`
	ContextSnapshot map[string]any `json:"context_snapshot"`
	AppliedCount    int            `json:"applied_count"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ScoredCorrection annotates a correction with a retrieval relevance score.
type ScoredCorrection struct {
	Correction
	Relevance float64 `json:"relevance_score"`
}

// ConversationSummary is condensed prior conversation text. Summarization is
// produced elsewhere; the snapshot only carries it when supplied.
type ConversationSummary struct {
	Text       string `json:"text"`
	RangeStart int    `json:"message_range_start"`
	RangeEnd   int    `json:"message_range_end"`
}

// TierStatus distinguishes a tier that returned nothing from a tier that
// failed and was substituted with its empty value.
type TierStatus string

const (
	TierOK       TierStatus = "ok"
	TierDegraded TierStatus = "degraded"
)

// RecencyTier holds the recent-turn window for one conversation.
type RecencyTier struct {
	Status  TierStatus           `json:"status"`
	Turns   []Turn               `json:"turns"`
	Summary *ConversationSummary `json:"summary,omitempty"`
}

// ProfileTier holds the long-term user profile.
type ProfileTier struct {
	Status  TierStatus `json:"status"`
	Profile Profile    `json:"profile"`
}

// SemanticTier holds nearest-neighbor recall results.
type SemanticTier struct {
	Status  TierStatus      `json:"status"`
	Matches []SemanticMatch `json:"matches"`
}

// FeedbackTier holds prior correction records.
type FeedbackTier struct {
	Status      TierStatus         `json:"status"`
	Corrections []ScoredCorrection `json:"corrections"`
}

// MemorySnapshot is the per-request aggregate of all four tiers. It is built
// fresh for every request and always fully shaped: each tier field is present
// even when the tier failed or returned nothing.
type MemorySnapshot struct {
	Recency  RecencyTier  `json:"recency"`
	Profile  ProfileTier  `json:"profile"`
	Semantic SemanticTier `json:"semantic"`
	Feedback FeedbackTier `json:"feedback"`
}

// EmptySnapshot returns a fully shaped snapshot with every tier empty.
func EmptySnapshot() MemorySnapshot {
	return MemorySnapshot{
		Recency:  RecencyTier{Status: TierOK, Turns: []Turn{}},
		Profile:  ProfileTier{Status: TierOK},
		Semantic: SemanticTier{Status: TierOK, Matches: []SemanticMatch{}},
		Feedback: FeedbackTier{Status: TierOK, Corrections: []ScoredCorrection{}},
	}
}
