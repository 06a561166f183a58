package models

import "time"

// Section kinds assigned during chunking.
const (
	SectionTOC          = "toc"
	SectionChapterTitle = "chapter_title"
	SectionParagraph    = "paragraph"
	SectionTable        = "table"
	SectionOther        = "other"
)

// Chunk statuses.
const (
	ChunkStatusChunked  = "chunked"
	ChunkStatusEmbedded = "embedded"
)

// Chunk is the smallest retrievable unit of document text. Index values
// partition [0, N) within a document; reprocessing replaces the whole set.
type Chunk struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	DocumentID  int64     `json:"document_id"`
	Index       int       `json:"index"`
	Page        int       `json:"page"`
	SectionKind string    `json:"section_kind"`
	Status      string    `json:"status"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchHit is one similarity-search result decoded from the vector index.
type SearchHit struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Index      int     `json:"index"`
	Page       int     `json:"page"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}
