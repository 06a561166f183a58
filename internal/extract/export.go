package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docquery/internal/cache"
	"docquery/internal/models"
)

type ChunkStore interface {
	AllChunks(ctx context.Context, tenantID, documentID int64) ([]models.Chunk, error)
}

type ExportCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration)
	AddMember(ctx context.Context, key string, members ...interface{})
}

// Service materializes structured rows from tabular documents and keeps
// the full row set retrievable as a short-lived export bundle.
type Service struct {
	chunks      ChunkStore
	cache       ExportCache
	maxRows     int
	visualLimit int
}

func NewService(chunks ChunkStore, exportCache ExportCache, maxRows, visualLimit int) *Service {
	if maxRows <= 0 {
		maxRows = 10000
	}
	if visualLimit <= 0 {
		visualLimit = 20
	}
	return &Service{chunks: chunks, cache: exportCache, maxRows: maxRows, visualLimit: visualLimit}
}

// Extract builds the table for a structured-list request. The visible
// slice is capped; the full row set goes into an export bundle owned by
// the requesting user. Returns nil rows when nothing matches, which the
// caller treats as a fall-through to semantic retrieval.
func (s *Service) Extract(ctx context.Context, tenantID, userID int64, doc *models.Document) (*models.TableData, error) {
	if !doc.Tabular() {
		return &models.TableData{}, nil
	}
	chunks, err := s.chunks.AllChunks(ctx, tenantID, doc.ID)
	if err != nil {
		return nil, err
	}
	rows := ExtractRows(chunks, s.maxRows)
	if len(rows) == 0 {
		return &models.TableData{}, nil
	}

	bundle := models.ExportBundle{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		DocumentID: doc.ID,
		Rows:       rows,
		CreatedAt:  time.Now().UTC(),
	}
	s.cache.SetJSON(ctx, cache.ExportKey(bundle.ID), bundle, cache.ExportTTL)
	s.cache.AddMember(ctx, cache.UserExportsKey(tenantID, userID), bundle.ID)

	visible := rows
	truncated := false
	if len(visible) > s.visualLimit {
		visible = visible[:s.visualLimit]
		truncated = true
	}
	return &models.TableData{
		Rows:      visible,
		Total:     len(rows),
		Truncated: truncated,
		ExportID:  bundle.ID,
	}, nil
}

// GetExport returns the full row set of a bundle. Expired bundles and
// bundles owned by another tenant or user both read as not found.
func (s *Service) GetExport(ctx context.Context, exportID string, tenantID, userID int64) ([]models.TableRow, error) {
	var bundle models.ExportBundle
	if !s.cache.GetJSON(ctx, cache.ExportKey(exportID), &bundle) {
		return nil, fmt.Errorf("export %s: %w", exportID, models.ErrNotFound)
	}
	if bundle.TenantID != tenantID || bundle.UserID != userID {
		return nil, fmt.Errorf("export %s: %w", exportID, models.ErrNotFound)
	}
	return bundle.Rows, nil
}
