package engine

import (
	"regexp"
	"strings"

	"docquery/internal/models"
)

// Query intents, checked in a fixed order: index request, direct entity
// lookup, structured list, and finally plain semantic retrieval.
const (
	IntentIndexRequest   = "index_request"
	IntentDirectLookup   = "direct_lookup"
	IntentStructuredList = "structured_list"
	IntentSemantic       = "semantic"
)

var indexKeywords = []string{
	"índice",
	"indice",
	"index",
	"table of contents",
	"contents",
	"chapters",
	"capítulos",
	"capitulos",
	"temario",
}

var listPhrases = []string{
	"list",
	"lista",
	"listado",
	"enumerate",
	"todos los",
	"todas las",
	"show all",
	"show me all",
	"dame todos",
	"dame todas",
}

// backwardRefs are phrasings that point at earlier turns; they force
// conversation history into the prompt even for short conversations.
var backwardRefs = []string{
	"before",
	"earlier",
	"you mentioned",
	"you said",
	"anterior",
	"antes",
	"mencionaste",
	"dijiste",
}

var (
	emailLookupRe   = regexp.MustCompile(`(?i)\b(?:email|e-mail|correo)\s+(?:de\s+|of\s+|for\s+)?(.+)`)
	vehicleLookupRe = regexp.MustCompile(`(?i)\b(?:vehículo|vehiculo|vehicle|coche|car)\s+(?:de\s+|of\s+|for\s+)?(.+)`)
)

// LookupRequest is a parsed direct entity lookup: which field is asked
// for and whose.
type LookupRequest struct {
	Field string // "email" or "vehicle"
	Name  string
}

// ClassifyIntent maps a question to its intent. Classification is pure
// string matching over the lowercased question; document kind only gates
// the structured-list intent.
func ClassifyIntent(question string, doc *models.Document) (string, *LookupRequest) {
	lower := strings.ToLower(question)

	for _, kw := range indexKeywords {
		if strings.Contains(lower, kw) {
			return IntentIndexRequest, nil
		}
	}

	if m := emailLookupRe.FindStringSubmatch(question); m != nil {
		if name := normalizeName(m[1]); name != "" {
			return IntentDirectLookup, &LookupRequest{Field: "email", Name: name}
		}
	}
	if m := vehicleLookupRe.FindStringSubmatch(question); m != nil {
		if name := normalizeName(m[1]); name != "" {
			return IntentDirectLookup, &LookupRequest{Field: "vehicle", Name: name}
		}
	}

	if doc != nil && doc.Tabular() {
		for _, phrase := range listPhrases {
			if strings.Contains(lower, phrase) {
				return IntentStructuredList, nil
			}
		}
	}

	return IntentSemantic, nil
}

// refersBack reports whether the question points at earlier conversation
// turns.
func refersBack(question string) bool {
	lower := strings.ToLower(question)
	for _, ref := range backwardRefs {
		if strings.Contains(lower, ref) {
			return true
		}
	}
	return false
}
