package models

import (
	"strings"
	"time"
)

// Document lifecycle statuses. Status only advances through the
// ingestion pipeline.
const (
	DocStatusUploaded   = "uploaded"
	DocStatusProcessing = "processing"
	DocStatusProcessed  = "processed"
	DocStatusReady      = "ready"
	DocStatusError      = "error"
)

// Document kinds used by intent classification and chunking.
const (
	DocKindText    = "text"
	DocKindTabular = "tabular"
)

// Document is an uploaded source artifact owned by a tenant.
type Document struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	OwnerID    int64     `json:"owner_id"`
	Name       string    `json:"name"`
	StoredPath string    `json:"stored_path"`
	MimeType   string    `json:"mime_type"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	IsDeleted  bool      `json:"is_deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tabular reports whether the document should be treated as a row table,
// by explicit kind or by extension/mimetype.
func (d *Document) Tabular() bool {
	if d == nil {
		return false
	}
	if d.Kind == DocKindTabular {
		return true
	}
	name := strings.ToLower(d.Name)
	if strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls") || strings.HasSuffix(name, ".csv") {
		return true
	}
	switch d.MimeType {
	case "text/csv",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	return false
}
