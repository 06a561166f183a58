package extract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"docquery/internal/models"
)

func rowChunks(contents ...string) []models.Chunk {
	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = models.Chunk{ID: int64(i + 1), Index: i, Content: c}
	}
	return chunks
}

func TestExtractRowsFromRenderedRowChunks(t *testing.T) {
	chunks := rowChunks(
		"Name: Ana García | Email: ana@example.com | Phone: 555-0101",
		"Name: Bob Smith | Email: bob@example.com | Phone: 555-0102",
		"Name: Carla Ruiz | Email: carla@example.com | Phone: 555-0103",
	)
	rows := ExtractRows(chunks, 100)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0].Name != "Ana García" || rows[0].Email != "ana@example.com" || rows[0].Detail != "555-0101" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[2].Email != "carla@example.com" {
		t.Fatalf("row 2 = %+v", rows[2])
	}
}

func TestExtractRowsPrimaryPipeTable(t *testing.T) {
	content := "|Name|Email|Vehicle|Notes|\n" +
		"|Ana García|ana@example.com|Toyota Corolla|vip|\n" +
		"|Bob Smith|bob@example.com|Ford Focus|none|\n"
	rows := ExtractRows(rowChunks(content), 100)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (header skipped)", len(rows))
	}
	if rows[0].Name != "Ana García" || rows[0].Detail != "Toyota Corolla" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
}

func TestExtractRowsPairFallback(t *testing.T) {
	chunks := rowChunks(
		"Cliente: Ana García | Correo: ana@example.com",
		"Cliente: Bob Smith | Correo: bob@example.com",
	)
	rows := ExtractRows(chunks, 100)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Name != "Ana García" || rows[0].Email != "ana@example.com" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[0].Detail != "" {
		t.Fatalf("pair rows carry no detail: %+v", rows[0])
	}
}

func TestExtractRowsRejectsNonEmails(t *testing.T) {
	chunks := rowChunks("Name: Ana | Email: not-an-email | Phone: 1")
	if rows := ExtractRows(chunks, 100); len(rows) != 0 {
		t.Fatalf("accepted invalid email: %+v", rows)
	}
}

func TestExtractRowsCap(t *testing.T) {
	chunks := rowChunks(
		"Name: A | Email: a@x.com | Phone: 1",
		"Name: B | Email: b@x.com | Phone: 2",
		"Name: C | Email: c@x.com | Phone: 3",
	)
	if rows := ExtractRows(chunks, 2); len(rows) != 2 {
		t.Fatalf("cap ignored: %d rows", len(rows))
	}
}

// fakeExportCache implements ExportCache in memory.
type fakeExportCache struct {
	values  map[string][]byte
	members map[string][]string
}

func newFakeExportCache() *fakeExportCache {
	return &fakeExportCache{values: map[string][]byte{}, members: map[string][]string{}}
}

func (f *fakeExportCache) GetJSON(_ context.Context, key string, dest interface{}) bool {
	raw, ok := f.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (f *fakeExportCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) {
	if raw, err := json.Marshal(value); err == nil {
		f.values[key] = raw
	}
}

func (f *fakeExportCache) AddMember(_ context.Context, key string, members ...interface{}) {
	for _, m := range members {
		if s, ok := m.(string); ok {
			f.members[key] = append(f.members[key], s)
		}
	}
}

type fakeChunkStore struct {
	chunks []models.Chunk
}

func (f *fakeChunkStore) AllChunks(_ context.Context, _, _ int64) ([]models.Chunk, error) {
	return f.chunks, nil
}

func TestExtractServiceBundlesAndOwnership(t *testing.T) {
	chunks := &fakeChunkStore{chunks: rowChunks(
		"Name: Ana | Email: ana@x.com | Phone: 1",
		"Name: Bob | Email: bob@x.com | Phone: 2",
		"Name: Cid | Email: cid@x.com | Phone: 3",
	)}
	cacheFake := newFakeExportCache()
	svc := NewService(chunks, cacheFake, 100, 2)
	doc := &models.Document{ID: 9, TenantID: 1, Kind: models.DocKindTabular, Name: "people.csv"}

	data, err := svc.Extract(context.Background(), 1, 7, doc)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if data.Total != 3 || len(data.Rows) != 2 || !data.Truncated {
		t.Fatalf("table data = %+v", data)
	}
	if data.ExportID == "" {
		t.Fatalf("missing export id")
	}

	rows, err := svc.GetExport(context.Background(), data.ExportID, 1, 7)
	if err != nil {
		t.Fatalf("GetExport error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("bundle rows = %d, want full set", len(rows))
	}

	// another user or tenant reads not-found
	if _, err := svc.GetExport(context.Background(), data.ExportID, 1, 8); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign user err = %v", err)
	}
	if _, err := svc.GetExport(context.Background(), data.ExportID, 2, 7); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign tenant err = %v", err)
	}
	if _, err := svc.GetExport(context.Background(), "missing", 1, 7); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing bundle err = %v", err)
	}
}

func TestExtractServiceNonTabular(t *testing.T) {
	svc := NewService(&fakeChunkStore{}, newFakeExportCache(), 100, 2)
	doc := &models.Document{ID: 1, TenantID: 1, Kind: models.DocKindText, Name: "book.pdf"}
	data, err := svc.Extract(context.Background(), 1, 7, doc)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if data.Total != 0 || data.ExportID != "" {
		t.Fatalf("non-tabular produced rows: %+v", data)
	}
}
