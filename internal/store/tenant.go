package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docquery/internal/models"
)

// CreateTenant registers a new isolation scope.
func (s *Store) CreateTenant(ctx context.Context, name string) (*models.Tenant, error) {
	if name == "" {
		return nil, errors.New("tenant name is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (name, created_at) VALUES (?, ?)`,
		name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tenant id: %w", err)
	}
	return &models.Tenant{ID: id, Name: name, CreatedAt: now}, nil
}

// GetTenant fetches one tenant by id.
func (s *Store) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = ?`,
		id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}
