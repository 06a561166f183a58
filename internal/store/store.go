package store

import (
	"database/sql"
	"errors"
	"strings"
)

// Store provides tenant-scoped access to the relational entities. Every
// method takes the tenant id and filters by it; no query may omit it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db handle required")
	}
	return &Store{db: db}, nil
}

// isUniqueViolation matches sqlite and mysql duplicate-key errors without
// importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
