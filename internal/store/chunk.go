package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docquery/internal/models"
)

// ReplaceChunks deletes every existing chunk for the document and inserts
// the new set in batches, draining the source slice progressively so the
// peak memory stays bounded on very large documents. Reprocessing is
// therefore idempotent: the document ends up with exactly the new set.
func (s *Store) ReplaceChunks(ctx context.Context, tenantID, documentID int64, chunks []models.Chunk, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE tenant_id = ? AND document_id = ?`,
		tenantID, documentID,
	); err != nil {
		return 0, fmt.Errorf("delete prior chunks: %w", err)
	}

	now := time.Now().UTC()
	inserted := 0
	for len(chunks) > 0 {
		n := batchSize
		if n > len(chunks) {
			n = len(chunks)
		}
		batch := chunks[:n]

		var (
			sb   strings.Builder
			args []interface{}
		)
		sb.WriteString(`INSERT INTO chunks (tenant_id, document_id, idx, page, section_kind, status, content, created_at) VALUES `)
		for i, c := range batch {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			kind := c.SectionKind
			if kind == "" {
				kind = models.SectionParagraph
			}
			args = append(args, tenantID, documentID, c.Index, c.Page, kind, models.ChunkStatusChunked, c.Content, now)
		}
		if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return inserted, fmt.Errorf("insert chunk batch: %w", err)
		}
		inserted += n
		chunks = chunks[n:] // drop the stored batch before building the next
	}
	return inserted, nil
}

// ChunksByStatus returns up to limit chunks with the given status whose
// index is >= afterIndex, ordered by index. The forward cursor stays
// correct while statuses flip concurrently, unlike offset pagination.
func (s *Store) ChunksByStatus(ctx context.Context, tenantID, documentID int64, status string, afterIndex, limit int) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, idx, page, section_kind, status, content, created_at
		 FROM chunks
		 WHERE tenant_id = ? AND document_id = ? AND status = ? AND idx >= ?
		 ORDER BY idx ASC LIMIT ?`,
		tenantID, documentID, status, afterIndex, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("chunks by status: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// MarkChunksEmbedded flips chunk status for the given ids.
func (s *Store) MarkChunksEmbedded(ctx context.Context, tenantID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, models.ChunkStatusEmbedded, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET status = ? WHERE tenant_id = ? AND id IN (`+placeholders+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("mark chunks embedded: %w", err)
	}
	return nil
}

// CountChunks returns the chunk count for a document, optionally filtered
// by status ("" counts all).
func (s *Store) CountChunks(ctx context.Context, tenantID, documentID int64, status string) (int, error) {
	var (
		count int
		err   error
	)
	if status == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chunks WHERE tenant_id = ? AND document_id = ?`,
			tenantID, documentID,
		).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chunks WHERE tenant_id = ? AND document_id = ? AND status = ?`,
			tenantID, documentID, status,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// TOCChunks returns the table-of-contents chunks in index order.
func (s *Store) TOCChunks(ctx context.Context, tenantID, documentID int64) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, idx, page, section_kind, status, content, created_at
		 FROM chunks
		 WHERE tenant_id = ? AND document_id = ? AND section_kind = ?
		 ORDER BY idx ASC`,
		tenantID, documentID, models.SectionTOC,
	)
	if err != nil {
		return nil, fmt.Errorf("toc chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// FirstChunks returns the first n chunks of a document in index order.
// Used by the legacy no-score fallback.
func (s *Store) FirstChunks(ctx context.Context, tenantID, documentID int64, n int) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, idx, page, section_kind, status, content, created_at
		 FROM chunks
		 WHERE tenant_id = ? AND document_id = ?
		 ORDER BY idx ASC LIMIT ?`,
		tenantID, documentID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("first chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// AllChunks returns every chunk of a document in index order. The
// structured extractor joins these for its primary pattern.
func (s *Store) AllChunks(ctx context.Context, tenantID, documentID int64) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, idx, page, section_kind, status, content, created_at
		 FROM chunks
		 WHERE tenant_id = ? AND document_id = ?
		 ORDER BY idx ASC`,
		tenantID, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("all chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// SearchChunkContent pre-filters chunks by a LIKE term; callers apply the
// precise pattern in memory afterwards.
func (s *Store) SearchChunkContent(ctx context.Context, tenantID, documentID int64, term string, limit int) ([]models.Chunk, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, idx, page, section_kind, status, content, created_at
		 FROM chunks
		 WHERE tenant_id = ? AND document_id = ? AND content LIKE ?
		 ORDER BY idx ASC LIMIT ?`,
		tenantID, documentID, "%"+term+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunk content: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanChunks(rows rowScanner) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Index, &c.Page,
			&c.SectionKind, &c.Status, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
