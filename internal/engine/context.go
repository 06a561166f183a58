package engine

import (
	"math"
	"sort"
	"strings"

	"docquery/internal/models"
)

// selectContext picks the chunks that go into the prompt: the best hit,
// its immediate index neighbors from the same document, padded back up to
// three by score. The result is reordered by (page, index) so the
// concatenated context reads in document order.
func selectContext(hits []models.SearchHit) []models.SearchHit {
	if len(hits) == 0 {
		return nil
	}
	sorted := make([]models.SearchHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	best := sorted[0]
	picked := []models.SearchHit{best}
	taken := map[int64]bool{best.ChunkID: true}

	for _, h := range sorted[1:] {
		if len(picked) >= 3 {
			break
		}
		diff := h.Index - best.Index
		if diff < 0 {
			diff = -diff
		}
		if h.DocumentID == best.DocumentID && diff <= 1 && !taken[h.ChunkID] {
			picked = append(picked, h)
			taken[h.ChunkID] = true
		}
	}
	for _, h := range sorted[1:] {
		if len(picked) >= 3 {
			break
		}
		if !taken[h.ChunkID] {
			picked = append(picked, h)
			taken[h.ChunkID] = true
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Page != picked[j].Page {
			return picked[i].Page < picked[j].Page
		}
		return picked[i].Index < picked[j].Index
	})
	return picked
}

// joinContext concatenates chunk contents up to maxLen characters.
func joinContext(parts []string, maxLen int) string {
	joined := strings.Join(parts, "\n\n")
	if maxLen > 0 && len(joined) > maxLen {
		joined = truncateAtWord(joined, maxLen)
	}
	return joined
}

// docTokenBudget is the share of the total prompt budget reserved for
// document context.
func docTokenBudget(maxTokens int, documentPriority float64) int {
	return int(math.Floor(float64(maxTokens) * documentPriority))
}

// fitToTokens trims text so its estimated token count stays within
// budget. The remainder of the budget flows to conversation history.
func fitToTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if models.EstimateTokens(text) <= budget {
		return text
	}
	return truncateAtWord(text, budget*4)
}

func truncateAtWord(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

// buildHistory renders the summary plus recent turns for the prompt.
func buildHistory(summary string, msgs []models.Message) string {
	var sb strings.Builder
	if summary != "" {
		sb.WriteString("Summary of earlier conversation: ")
		sb.WriteString(summary)
		sb.WriteString("\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			sb.WriteString("User: ")
		case models.RoleAssistant:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
