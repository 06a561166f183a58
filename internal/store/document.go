package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docquery/internal/models"
)

// CreateDocument inserts a new uploaded document and returns the record.
func (s *Store) CreateDocument(ctx context.Context, doc models.Document) (*models.Document, error) {
	if doc.TenantID <= 0 {
		return nil, errors.New("tenant_id is required")
	}
	if doc.Name == "" {
		return nil, errors.New("document name is required")
	}
	if doc.Kind == "" {
		doc.Kind = models.DocKindText
	}
	if doc.Status == "" {
		doc.Status = models.DocStatusUploaded
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (tenant_id, owner_id, name, stored_path, mime_type, kind, status, is_deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		doc.TenantID, doc.OwnerID, doc.Name, doc.StoredPath, doc.MimeType, doc.Kind, doc.Status, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("document id: %w", err)
	}
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return &doc, nil
}

// GetDocument fetches one document by (tenant, id), excluding soft-deleted
// rows. A foreign tenant's document is reported as not found.
func (s *Store) GetDocument(ctx context.Context, tenantID, id int64) (*models.Document, error) {
	var (
		doc       models.Document
		isDeleted int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, owner_id, name, stored_path, mime_type, kind, status, is_deleted, created_at, updated_at
		 FROM documents WHERE id = ? AND tenant_id = ? AND is_deleted = 0`,
		id, tenantID,
	).Scan(&doc.ID, &doc.TenantID, &doc.OwnerID, &doc.Name, &doc.StoredPath, &doc.MimeType,
		&doc.Kind, &doc.Status, &isDeleted, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc.IsDeleted = isDeleted != 0
	return &doc, nil
}

// SetDocumentStatus advances the document lifecycle status.
func (s *Store) SetDocumentStatus(ctx context.Context, tenantID, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		status, time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("document rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// SetDocumentKind records the tabular/text classification.
func (s *Store) SetDocumentKind(ctx context.Context, tenantID, id int64, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET kind = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		kind, time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("set document kind: %w", err)
	}
	return nil
}

// SoftDeleteDocument hides a document from retrieval while keeping the row.
func (s *Store) SoftDeleteDocument(ctx context.Context, tenantID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_deleted = 1, updated_at = ? WHERE id = ? AND tenant_id = ? AND is_deleted = 0`,
		time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("document rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	return nil
}
