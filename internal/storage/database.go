package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"docquery/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
//
// conversations.active is 1 while the conversation is open and NULL once
// closed, so UNIQUE(tenant_id, user_id, document_id, active) admits any
// number of closed rows but at most one open one on both drivers.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS tenants (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant_id INTEGER NOT NULL,
				owner_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				stored_path TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				kind TEXT NOT NULL DEFAULT 'text',
				status TEXT NOT NULL DEFAULT 'uploaded',
				is_deleted INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id, is_deleted)`,
			`CREATE TABLE IF NOT EXISTS chunks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant_id INTEGER NOT NULL,
				document_id INTEGER NOT NULL,
				idx INTEGER NOT NULL,
				page INTEGER NOT NULL DEFAULT 1,
				section_kind TEXT NOT NULL DEFAULT 'paragraph',
				status TEXT NOT NULL DEFAULT 'chunked',
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_chunks_doc_idx ON chunks(document_id, idx)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(tenant_id, document_id, status, idx)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				document_id INTEGER NOT NULL,
				active INTEGER,
				message_count INTEGER NOT NULL DEFAULT 0,
				total_tokens INTEGER NOT NULL DEFAULT 0,
				total_cost REAL NOT NULL DEFAULT 0,
				summary TEXT,
				summary_generated_at DATETIME,
				last_summarized_index INTEGER NOT NULL DEFAULT 0,
				summary_message_count INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE(tenant_id, user_id, document_id, active),
				FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tenant_id INTEGER NOT NULL,
				conversation_id INTEGER NOT NULL,
				role TEXT NOT NULL,
				idx INTEGER NOT NULL,
				content TEXT NOT NULL,
				tokens INTEGER NOT NULL DEFAULT 0,
				chunk_ids TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(tenant_id, conversation_id, idx)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS tenants (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL UNIQUE,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS documents (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				tenant_id BIGINT UNSIGNED NOT NULL,
				owner_id BIGINT UNSIGNED NOT NULL,
				name VARCHAR(512) NOT NULL,
				stored_path TEXT NOT NULL,
				mime_type VARCHAR(255) NOT NULL,
				kind VARCHAR(32) NOT NULL DEFAULT 'text',
				status VARCHAR(32) NOT NULL DEFAULT 'uploaded',
				is_deleted TINYINT NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_documents_tenant (tenant_id, is_deleted)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chunks (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				tenant_id BIGINT UNSIGNED NOT NULL,
				document_id BIGINT UNSIGNED NOT NULL,
				idx INT NOT NULL,
				page INT NOT NULL DEFAULT 1,
				section_kind VARCHAR(32) NOT NULL DEFAULT 'paragraph',
				status VARCHAR(32) NOT NULL DEFAULT 'chunked',
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_chunks_doc_idx (document_id, idx),
				INDEX idx_chunks_status (tenant_id, document_id, status, idx),
				CONSTRAINT fk_chunks_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				tenant_id BIGINT UNSIGNED NOT NULL,
				user_id BIGINT UNSIGNED NOT NULL,
				document_id BIGINT UNSIGNED NOT NULL,
				active TINYINT NULL,
				message_count INT NOT NULL DEFAULT 0,
				total_tokens BIGINT NOT NULL DEFAULT 0,
				total_cost DOUBLE NOT NULL DEFAULT 0,
				summary MEDIUMTEXT,
				summary_generated_at DATETIME NULL,
				last_summarized_index INT NOT NULL DEFAULT 0,
				summary_message_count INT NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_conversations_active (tenant_id, user_id, document_id, active),
				CONSTRAINT fk_conversations_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				tenant_id BIGINT UNSIGNED NOT NULL,
				conversation_id BIGINT UNSIGNED NOT NULL,
				role VARCHAR(16) NOT NULL,
				idx INT NOT NULL,
				content MEDIUMTEXT NOT NULL,
				tokens INT NOT NULL DEFAULT 0,
				chunk_ids TEXT,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_conv (tenant_id, conversation_id, idx),
				CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
