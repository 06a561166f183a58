package extract

import (
	"regexp"
	"strings"

	"docquery/internal/models"
)

// Row extraction is deliberately regex-driven: the sources are delimited
// text lines produced by the chunker or embedded pipe tables in parsed
// documents, not a parsed grammar.
var (
	// fourFieldRe is the primary pattern: a fixed 4-column pipe row.
	fourFieldRe = regexp.MustCompile(`\|([^|\n]+)\|([^|\n]+)\|([^|\n]+)\|([^|\n]+)\|`)

	// tripleRe / pairRe are the per-chunk fallbacks, keyed on an
	// email-shaped middle field.
	tripleRe = regexp.MustCompile(`([\p{L}][\p{L}0-9 .'-]*?)\s*\|\s*([^\s|]+@[^\s|]+\.[^\s|]+)\s*\|\s*([^|\n]+)`)
	pairRe   = regexp.MustCompile(`([\p{L}][\p{L}0-9 .'-]*?)\s*\|\s*([^\s|]+@[^\s|]+\.[^\s|]+)`)

	// labelRe strips "Header: " prefixes the row chunker adds, turning
	// "Name: Ana | Email: ana@x.com" into "Ana | ana@x.com".
	labelRe = regexp.MustCompile(`(?i)(^|\| ?)\s*[\p{L}][\p{L}0-9 _.-]{0,24}:\s*`)
)

var nameHeaderLabels = []string{"name", "nombre", "cliente", "client", "full name"}
var emailHeaderLabels = []string{"email", "e-mail", "correo", "mail", "correo electronico", "correo electrónico"}

// ExtractRows pulls structured rows out of a document's chunks. The
// primary pass matches 4-field pipe rows over the joined content; only
// when it yields nothing do the per-chunk triplet and pair fallbacks run.
// Extraction stops at maxRows.
func ExtractRows(chunks []models.Chunk, maxRows int) []models.TableRow {
	if maxRows <= 0 {
		maxRows = 10000
	}

	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Content)
		joined.WriteString("\n")
	}

	rows := primaryRows(joined.String(), maxRows)
	if len(rows) > 0 {
		return rows
	}
	return fallbackRows(chunks, maxRows)
}

func primaryRows(text string, maxRows int) []models.TableRow {
	var rows []models.TableRow
	for _, m := range fourFieldRe.FindAllStringSubmatch(text, -1) {
		if len(rows) >= maxRows {
			break
		}
		name := cleanField(m[1])
		email := cleanField(m[2])
		detail := cleanField(m[3])
		if isHeaderRow(name, email) {
			continue
		}
		if !emailLike(email) {
			continue
		}
		rows = append(rows, models.TableRow{Name: name, Email: email, Detail: detail})
	}
	return rows
}

func fallbackRows(chunks []models.Chunk, maxRows int) []models.TableRow {
	var triples, pairs []models.TableRow
	for _, c := range chunks {
		stripped := labelRe.ReplaceAllString(c.Content, "${1}")
		for _, m := range tripleRe.FindAllStringSubmatch(stripped, -1) {
			if len(triples) >= maxRows {
				break
			}
			name := cleanField(m[1])
			email := cleanField(m[2])
			if isHeaderRow(name, email) || !emailLike(email) {
				continue
			}
			triples = append(triples, models.TableRow{Name: name, Email: email, Detail: cleanField(m[3])})
		}
		for _, m := range pairRe.FindAllStringSubmatch(stripped, -1) {
			if len(pairs) >= maxRows {
				break
			}
			name := cleanField(m[1])
			email := cleanField(m[2])
			if isHeaderRow(name, email) || !emailLike(email) {
				continue
			}
			pairs = append(pairs, models.TableRow{Name: name, Email: email})
		}
	}
	if len(triples) > 0 {
		return triples
	}
	return pairs
}

// cleanField trims a captured field and collapses accidental duplicate
// delimiters left by sloppy source tables.
func cleanField(field string) string {
	field = strings.ReplaceAll(field, "||", "|")
	field = strings.Trim(field, "| ")
	return strings.TrimSpace(field)
}

func emailLike(field string) bool {
	return strings.Contains(field, "@") && strings.Contains(field, ".")
}

// isHeaderRow skips the column-label row of a source table.
func isHeaderRow(name, email string) bool {
	return matchesLabel(name, nameHeaderLabels) && matchesLabel(email, emailHeaderLabels)
}

func matchesLabel(field string, labels []string) bool {
	field = strings.ToLower(strings.TrimSpace(field))
	for _, l := range labels {
		if field == l {
			return true
		}
	}
	return false
}
