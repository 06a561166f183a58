package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"docquery/internal/models"
)

// tocMarkers flag a chunk as table-of-contents material.
var tocMarkers = []string{
	"table of contents",
	"contents",
	"índice",
	"indice",
	"temario",
}

// BuildChunks turns a parsed source into the ordered chunk set. Tabular
// sources produce one chunk per row; free text is windowed. Index values
// always partition [0, N).
func BuildChunks(parsed *Parsed, chunkSize, overlap int) []models.Chunk {
	if parsed == nil {
		return nil
	}
	if parsed.Kind == models.DocKindTabular {
		return buildRowChunks(parsed)
	}
	return buildTextChunks(parsed, chunkSize, overlap)
}

// buildRowChunks renders each row as "Header: value | Header: value | ..."
// so a row stays matchable both semantically and by the structured
// extractor's delimited patterns.
func buildRowChunks(parsed *Parsed) []models.Chunk {
	var chunks []models.Chunk
	for _, row := range parsed.Rows {
		parts := make([]string, 0, len(row))
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			header := ""
			if i < len(parsed.Headers) {
				header = strings.TrimSpace(parsed.Headers[i])
			}
			if header == "" {
				header = "col" + strconv.Itoa(i+1)
			}
			parts = append(parts, header+": "+cell)
		}
		if len(parts) == 0 {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Index:       len(chunks),
			Page:        1,
			SectionKind: models.SectionTable,
			Content:     strings.Join(parts, " | "),
		})
	}
	return chunks
}

// buildTextChunks windows normalized words into overlapping chunks of
// roughly chunkSize characters, carrying the source page number through.
func buildTextChunks(parsed *Parsed, chunkSize, overlap int) []models.Chunk {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 6
	}

	var chunks []models.Chunk
	for _, page := range parsed.Pages {
		words := strings.Fields(page.Text)
		if len(words) == 0 {
			continue
		}
		start := 0
		for start < len(words) {
			size := 0
			end := start
			for end < len(words) {
				next := len(words[end])
				if size > 0 {
					next++ // joining space
				}
				if size+next > chunkSize && size > 0 {
					break
				}
				size += next
				end++
			}
			content := strings.Join(words[start:end], " ")
			chunks = append(chunks, models.Chunk{
				Index:       len(chunks),
				Page:        page.Number,
				SectionKind: classifySection(content),
				Content:     content,
			})
			if end >= len(words) {
				break
			}
			// step back far enough to cover the configured overlap
			back := end
			covered := 0
			for back > start && covered < overlap {
				back--
				covered += len(words[back]) + 1
			}
			if back <= start {
				back = start + 1
			}
			start = back
		}
	}
	return chunks
}

// classifySection assigns the section kind heuristically from content
// shape. TOC detection keys on marker phrases plus dotted leader or
// page-number lines typical of printed indexes.
func classifySection(content string) string {
	lower := strings.ToLower(content)
	for _, marker := range tocMarkers {
		if strings.Contains(lower, marker) && looksLikeTOC(content) {
			return models.SectionTOC
		}
	}
	if strings.Count(content, "|") >= 2 {
		return models.SectionTable
	}
	if len(content) < 80 && !strings.ContainsAny(content, ".!?") {
		return models.SectionChapterTitle
	}
	return models.SectionParagraph
}

// tocEntryRe matches one printed index entry: a dotted leader followed by
// a page number. Windowed chunks collapse whitespace, so the pattern must
// hold within a single line as well as across raw page text.
var tocEntryRe = regexp.MustCompile(`\.{2,}\s*\d{1,4}\b`)

// looksLikeTOC requires a minimal density of entry patterns (dotted
// leaders with page numbers, or raw lines ending in a page number) so a
// body mention of "contents" does not reclassify a paragraph.
func looksLikeTOC(content string) bool {
	if len(tocEntryRe.FindAllStringIndex(content, 3)) >= 3 {
		return true
	}
	lines := strings.Split(content, "\n")
	entries := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if endsWithNumber(line) {
			entries++
		}
	}
	return entries >= 3
}

func endsWithNumber(line string) bool {
	i := len(line) - 1
	digits := 0
	for i >= 0 && line[i] >= '0' && line[i] <= '9' {
		digits++
		i--
	}
	return digits > 0 && i >= 0 && (line[i] == ' ' || line[i] == '.' || line[i] == '\t')
}
