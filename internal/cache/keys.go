package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Keys are built as prefix:tenant:scopeIds...:hash(variableInput) so
// identical inputs always collide and different tenants or documents
// never do.

func hashInput(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// ResponseKey identifies one cached answer for a question against a
// document.
func ResponseKey(tenantID, documentID int64, question string) string {
	return fmt.Sprintf("rag:resp:%d:%d:%s", tenantID, documentID, hashInput(question))
}

// ResponsePattern matches every cached answer for a document.
func ResponsePattern(tenantID, documentID int64) string {
	return fmt.Sprintf("rag:resp:%d:%d:*", tenantID, documentID)
}

// EmbeddingKey identifies a cached question embedding.
func EmbeddingKey(tenantID int64, text string) string {
	return fmt.Sprintf("rag:emb:%d:%s", tenantID, hashInput(text))
}

// SummaryKey identifies the hot conversation summary entry.
func SummaryKey(tenantID, conversationID int64) string {
	return fmt.Sprintf("rag:sum:%d:%d", tenantID, conversationID)
}

// ExportKey identifies an export bundle by its generated id.
func ExportKey(exportID string) string {
	return fmt.Sprintf("export:%s", exportID)
}

// UserExportsKey groups the export ids a user generated.
func UserExportsKey(tenantID, userID int64) string {
	return fmt.Sprintf("rag:exports:%d:%d", tenantID, userID)
}
