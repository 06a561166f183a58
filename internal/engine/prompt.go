package engine

import (
	"fmt"
	"strings"

	"docquery/internal/models"
)

const answerSystemPrompt = "You are a document question answering assistant. " +
	"Answer using only the provided document context and conversation history. " +
	"If the context does not contain the answer, say exactly: " +
	insufficientContextSentence + " " +
	"Answer in the language of the question."

// insufficientContextSentence is the fixed refusal the model is
// instructed to emit verbatim, so downstream consumers can detect it.
const insufficientContextSentence = "I don't have enough information in the provided context to answer that question."

const indexSystemPrompt = "You are a document assistant. The user asked about the " +
	"document's index or table of contents. Present the table of contents below " +
	"clearly and answer the question from it. Answer in the language of the question."

// buildUserPrompt assembles the single user turn: document context first,
// then optional history, then the question.
func buildUserPrompt(docContext, history, question string) string {
	var sb strings.Builder
	sb.WriteString("Document context:\n")
	sb.WriteString(docContext)
	if history != "" {
		sb.WriteString("\n\nConversation so far:\n")
		sb.WriteString(history)
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// tableSummaryText narrates a structured answer. The full row set is
// never inlined; it stays behind the export id.
func tableSummaryText(data *models.TableData) string {
	if data.Total == 1 {
		return "I found 1 entry in the document."
	}
	text := fmt.Sprintf("I found %d entries in the document.", data.Total)
	if data.Truncated {
		text += fmt.Sprintf(" Showing the first %d; the complete table is available under export %s.",
			len(data.Rows), data.ExportID)
	}
	return text
}
