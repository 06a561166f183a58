package engine

import (
	"strings"
	"testing"

	"docquery/internal/models"
)

func TestSelectContextNeighbors(t *testing.T) {
	hits := []models.SearchHit{
		{ChunkID: 110, DocumentID: 1, Index: 10, Page: 4, Score: 0.91, Content: "best"},
		{ChunkID: 111, DocumentID: 1, Index: 11, Page: 4, Score: 0.72, Content: "after"},
		{ChunkID: 109, DocumentID: 1, Index: 9, Page: 4, Score: 0.55, Content: "before"},
		{ChunkID: 140, DocumentID: 1, Index: 40, Page: 12, Score: 0.80, Content: "far"},
	}
	picked := selectContext(hits)
	if len(picked) != 3 {
		t.Fatalf("picked %d hits, want 3", len(picked))
	}
	// neighbors win over the higher-scoring distant hit, ordered by index
	want := []int64{109, 110, 111}
	for i, h := range picked {
		if h.ChunkID != want[i] {
			t.Fatalf("picked[%d] = chunk %d, want %d", i, h.ChunkID, want[i])
		}
	}
}

func TestSelectContextPadsByScore(t *testing.T) {
	hits := []models.SearchHit{
		{ChunkID: 10, DocumentID: 1, Index: 10, Page: 2, Score: 0.9},
		{ChunkID: 50, DocumentID: 1, Index: 50, Page: 9, Score: 0.8},
		{ChunkID: 70, DocumentID: 1, Index: 70, Page: 14, Score: 0.7},
		{ChunkID: 90, DocumentID: 1, Index: 90, Page: 20, Score: 0.6},
	}
	picked := selectContext(hits)
	if len(picked) != 3 {
		t.Fatalf("picked %d hits, want 3", len(picked))
	}
	// no adjacent chunks: top three by score, back in document order
	want := []int64{10, 50, 70}
	for i, h := range picked {
		if h.ChunkID != want[i] {
			t.Fatalf("picked[%d] = chunk %d, want %d", i, h.ChunkID, want[i])
		}
	}
}

func TestSelectContextEmpty(t *testing.T) {
	if picked := selectContext(nil); picked != nil {
		t.Fatalf("picked = %v", picked)
	}
}

func TestDocTokenBudget(t *testing.T) {
	if got := docTokenBudget(3500, 0.7); got != 2450 {
		t.Fatalf("budget = %d, want 2450", got)
	}
	if got := docTokenBudget(100, 0.33); got != 33 {
		t.Fatalf("budget = %d, want 33", got)
	}
}

func TestFitToTokens(t *testing.T) {
	text := strings.Repeat("word ", 100) // ~125 estimated tokens
	if got := fitToTokens(text, 1000); got != text {
		t.Fatalf("under-budget text was modified")
	}
	trimmed := fitToTokens(text, 10)
	if models.EstimateTokens(trimmed) > 11 {
		t.Fatalf("trimmed text still %d tokens", models.EstimateTokens(trimmed))
	}
	if strings.HasSuffix(trimmed, "wor") {
		t.Fatalf("trim cut mid-word: %q", trimmed[len(trimmed)-10:])
	}
	if got := fitToTokens(text, 0); got != "" {
		t.Fatalf("zero budget returned %q", got)
	}
}

func TestBuildHistory(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "hola"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	got := buildHistory("earlier recap", msgs)
	if !strings.Contains(got, "earlier recap") ||
		!strings.Contains(got, "User: hola") ||
		!strings.Contains(got, "Assistant: hello") {
		t.Fatalf("history = %q", got)
	}
}
