package models

// TokenUsage accumulates prompt/completion token counts for one answer.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Answer is the engine's query result.
type Answer struct {
	Text           string     `json:"text"`
	ContextChunks  []int64    `json:"context_chunks"`
	Usage          TokenUsage `json:"usage"`
	ConversationID int64      `json:"conversation_id"`
	Intent         string     `json:"intent"`
	Cached         bool       `json:"cached"`
	Structured     *TableData `json:"structured,omitempty"`
}

// Completion is the completion provider's raw result.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
