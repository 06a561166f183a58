package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an append-only turn in a conversation. Index is derived from
// the conversation's message counter at creation time and never changes.
type Message struct {
	ID             int64     `json:"id"`
	TenantID       int64     `json:"tenant_id"`
	ConversationID int64     `json:"conversation_id"`
	Role           Role      `json:"role"`
	Index          int       `json:"index"`
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens"`
	ChunkIDs       []int64   `json:"chunk_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
