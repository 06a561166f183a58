package models

import "time"

// Conversation is one thread of turns between a user and a document.
// At most one active conversation exists per (tenant, user, document);
// the backing store enforces this with a uniqueness constraint.
type Conversation struct {
	ID                  int64      `json:"id"`
	TenantID            int64      `json:"tenant_id"`
	UserID              int64      `json:"user_id"`
	DocumentID          int64      `json:"document_id"`
	Active              bool       `json:"active"`
	MessageCount        int        `json:"message_count"`
	TotalTokens         int64      `json:"total_tokens"`
	TotalCost           float64    `json:"total_cost"`
	Summary             string     `json:"summary,omitempty"`
	SummaryGeneratedAt  *time.Time `json:"summary_generated_at,omitempty"`
	LastSummarizedIndex int        `json:"last_summarized_index"`
	SummaryMessageCount int        `json:"summary_message_count"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ConversationSummary is the summarization tier's read result.
type ConversationSummary struct {
	Summary      string    `json:"summary"`
	GeneratedAt  time.Time `json:"generated_at"`
	MessageCount int       `json:"message_count"`
}
