package models

import "time"

// TableRow is one extracted structured row. Detail carries whatever the
// third source column held (vehicle, phone, ...), empty for pair matches.
type TableRow struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Detail string `json:"detail,omitempty"`
}

// TableData is the display-bounded structured answer payload.
type TableData struct {
	Rows      []TableRow `json:"rows"`
	Total     int        `json:"total"`
	Truncated bool       `json:"truncated"`
	ExportID  string     `json:"export_id,omitempty"`
}

// ExportBundle is the short-lived full row snapshot behind an export id,
// bound to the user who generated it.
type ExportBundle struct {
	ID         string     `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	UserID     int64      `json:"user_id"`
	DocumentID int64      `json:"document_id"`
	Rows       []TableRow `json:"rows"`
	CreatedAt  time.Time  `json:"created_at"`
}
