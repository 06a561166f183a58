package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"docquery/internal/models"
)

// Page is one unit of extracted free text with its source page number.
type Page struct {
	Number int
	Text   string
}

// Parsed is the format-neutral result of reading a source file. Tabular
// sources fill Headers/Rows; everything else fills Pages.
type Parsed struct {
	Kind    string
	Pages   []Page
	Headers []string
	Rows    [][]string
}

// ParseFile reads the document at path into a Parsed, choosing the reader
// by extension with the mimetype as a tie-breaker.
func ParseFile(path, mimeType string) (*Parsed, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return parsePDF(path)
	case ".xlsx", ".xls":
		return parseXLSX(path)
	case ".csv":
		return parseCSV(path)
	case ".txt", ".md", "":
		return parseText(path)
	}
	switch mimeType {
	case "application/pdf":
		return parsePDF(path)
	case "text/csv":
		return parseCSV(path)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel":
		return parseXLSX(path)
	case "text/plain", "text/markdown":
		return parseText(path)
	}
	return nil, fmt.Errorf("unsupported file format: %s", ext)
}

func parsePDF(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	parsed := &Parsed{Kind: models.DocKindText}
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parsed.Pages = append(parsed.Pages, Page{Number: i, Text: text})
	}
	return parsed, nil
}

func parseXLSX(path string) (*Parsed, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	parsed := &Parsed{Kind: models.DocKindTabular}
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if rowEmpty(row) {
				continue
			}
			if parsed.Headers == nil {
				parsed.Headers = row
				continue
			}
			parsed.Rows = append(parsed.Rows, row)
		}
	}
	return parsed, nil
}

func parseCSV(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	parsed := &Parsed{Kind: models.DocKindTabular}
	for _, row := range records {
		if rowEmpty(row) {
			continue
		}
		if parsed.Headers == nil {
			parsed.Headers = row
			continue
		}
		parsed.Rows = append(parsed.Rows, row)
	}
	return parsed, nil
}

func parseText(path string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	return &Parsed{
		Kind:  models.DocKindText,
		Pages: []Page{{Number: 1, Text: string(data)}},
	}, nil
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
