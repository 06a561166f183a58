package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"docquery/internal/models"
)

var emailTokenRe = regexp.MustCompile(`[^\s|,;]+@[^\s|,;]+\.[^\s|,;]+`)

// normalizeName strips quoting and trailing punctuation from a captured
// lookup target.
func normalizeName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, `"'¿?¡!.`)
	return strings.TrimSpace(name)
}

// flexibleNameRegex matches the name with anything between its words, so
// "Ana García" still matches "García, Ana" row renderings and middle
// names in the source text.
func flexibleNameRegex(name string) (*regexp.Regexp, error) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty lookup name: %w", models.ErrValidation)
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile(`(?i)` + strings.Join(quoted, `.*?`))
}

// directLookup resolves an entity lookup against the relational chunks
// only: a LIKE pre-filter narrows the candidates, the flexible name
// pattern picks the row, and the requested field is pulled out of it.
// Vector search is never involved.
func (s *Service) directLookup(ctx context.Context, tenantID, documentID int64, req *LookupRequest) (string, []int64, error) {
	re, err := flexibleNameRegex(req.Name)
	if err != nil {
		return "", nil, err
	}

	// The longest name word gives the most selective LIKE term.
	term := ""
	for _, p := range strings.Fields(req.Name) {
		if len(p) > len(term) {
			term = p
		}
	}
	candidates, err := s.chunks.SearchChunkContent(ctx, tenantID, documentID, term, 50)
	if err != nil {
		return "", nil, err
	}

	for _, c := range candidates {
		if !re.MatchString(c.Content) {
			continue
		}
		switch req.Field {
		case "email":
			if email := emailTokenRe.FindString(c.Content); email != "" {
				return fmt.Sprintf("The email address of %s is %s.", req.Name, email), []int64{c.ID}, nil
			}
		case "vehicle":
			if detail := vehicleFromChunk(c.Content); detail != "" {
				return fmt.Sprintf("The vehicle of %s is %s.", req.Name, detail), []int64{c.ID}, nil
			}
		}
	}
	return fmt.Sprintf("I couldn't find %s in the document.", req.Name), nil, nil
}

// vehicleFromChunk pulls the value of a vehicle-labeled field out of a
// rendered row chunk.
func vehicleFromChunk(content string) string {
	for _, field := range strings.Split(content, "|") {
		label, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "vehicle", "vehículo", "vehiculo", "coche", "car":
			return strings.TrimSpace(value)
		}
	}
	return ""
}
