// Package store implements the durable relational store for conversations,
// turns, profiles, corrections, summaries, and request traces on top of GORM.
package store

import "time"

// ConversationRecord is the conversations table.
type ConversationRecord struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID string `gorm:"size:255;uniqueIndex;not null"`
	UserID         string `gorm:"size:255;index;not null"`
	Title          string `gorm:"size:500"`
	TotalMessages  int    `gorm:"default:0"`
	TotalTokens    int    `gorm:"default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ConversationRecord) TableName() string { return "conversations" }

// TurnRecord is the messages table. Rows are immutable once written.
type TurnRecord struct {
	ID             uint      `gorm:"primaryKey"`
	TurnID         string    `gorm:"size:255;uniqueIndex;not null"`
	ConversationID string    `gorm:"size:255;index;not null"`
	UserID         string    `gorm:"size:255;index;not null"`
	Role           string    `gorm:"size:50;not null"`
	Content        string    `gorm:"type:text;not null"`
	TokenCount     int       `gorm:"default:0"`
	EmbeddingID    string    `gorm:"size:255;index"`
	CreatedAt      time.Time `gorm:"index"`
}

func (TurnRecord) TableName() string { return "turns" }

// ProfileRecord is the user_profiles table. ProfileData is the serialized
// profile JSON; one row per user.
type ProfileRecord struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      string `gorm:"size:255;uniqueIndex;not null"`
	ProfileData string `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProfileRecord) TableName() string { return "user_profiles" }

// CorrectionRecord is the feedback_corrections table.
type CorrectionRecord struct {
	ID              uint      `gorm:"primaryKey"`
	CorrectionID    string    `gorm:"size:255;uniqueIndex;not null"`
	UserID          string    `gorm:"size:255;index;not null"`
	ConversationID  string    `gorm:"size:255;index;not null"`
	MessageID       string    `gorm:"size:255;not null"`
	CorrectionType  string    `gorm:"size:50;not null"`
	UserText        string    `gorm:"type:text"`
	CorrectedText   *string   `gorm:"type:text"`
	ContextSnapshot string    `gorm:"type:text"`
	AppliedCount    int       `gorm:"default:0"`
	CreatedAt       time.Time `gorm:"index"`
}

func (CorrectionRecord) TableName() string { return "feedback_corrections" }

// SummaryRecord is the conversation_summaries table. Summaries are produced
// elsewhere; this store only reads the latest one per conversation.
type SummaryRecord struct {
	ID                uint   `gorm:"primaryKey"`
	SummaryID         string `gorm:"size:255;uniqueIndex;not null"`
	ConversationID    string `gorm:"size:255;index;not null"`
	SummaryText       string `gorm:"type:text;not null"`
	MessageRangeStart int    `gorm:"not null"`
	MessageRangeEnd   int    `gorm:"not null"`
	TokensSaved       int    `gorm:"default:0"`
	CreatedAt         time.Time
}

func (SummaryRecord) TableName() string { return "conversation_summaries" }

// TraceRecord is the request_traces table: the durable record of one full
// request's inputs, outputs, and metrics.
type TraceRecord struct {
	ID                uint      `gorm:"primaryKey"`
	RequestID         string    `gorm:"size:255;uniqueIndex;not null"`
	UserID            string    `gorm:"size:255;index;not null"`
	ConversationID    string    `gorm:"size:255;index;not null"`
	UserMessage       string    `gorm:"type:text;not null"`
	AssistantResponse string    `gorm:"type:text;not null"`
	PromptTokens      int       `gorm:"default:0"`
	CompletionTokens  int       `gorm:"default:0"`
	TotalTokens       int       `gorm:"default:0"`
	LatencyMS         float64
	Provider          string    `gorm:"size:50"`
	Model             string    `gorm:"size:100"`
	MemorySnapshot    string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"index"`
}

func (TraceRecord) TableName() string { return "request_traces" }
