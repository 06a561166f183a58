package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docquery/internal/models"
)

// AppendMessage stores a new immutable turn. The caller supplies the index
// it derived from IncrementMessageCount.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.TenantID <= 0 || msg.ConversationID <= 0 {
		return nil, errors.New("tenant_id and conversation_id are required")
	}
	var chunkIDs []byte
	if len(msg.ChunkIDs) > 0 {
		var err error
		chunkIDs, err = json.Marshal(msg.ChunkIDs)
		if err != nil {
			return nil, fmt.Errorf("encode chunk ids: %w", err)
		}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (tenant_id, conversation_id, role, idx, content, tokens, chunk_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.TenantID, msg.ConversationID, msg.Role, msg.Index, msg.Content, msg.Tokens, nullableBytes(chunkIDs), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// RecentMessages returns the last n turns in chronological order.
func (s *Store) RecentMessages(ctx context.Context, tenantID, conversationID int64, n int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, conversation_id, role, idx, content, tokens, chunk_ids, created_at
		 FROM messages
		 WHERE tenant_id = ? AND conversation_id = ?
		 ORDER BY idx DESC LIMIT ?`,
		tenantID, conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessagesFromIndex returns every turn with index >= from in order. The
// summarization tier uses this to summarize only the unsummarized tail.
func (s *Store) MessagesFromIndex(ctx context.Context, tenantID, conversationID int64, from int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, conversation_id, role, idx, content, tokens, chunk_ids, created_at
		 FROM messages
		 WHERE tenant_id = ? AND conversation_id = ? AND idx >= ?
		 ORDER BY idx ASC`,
		tenantID, conversationID, from,
	)
	if err != nil {
		return nil, fmt.Errorf("messages from index: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows rowScanner) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var (
			m        models.Message
			chunkIDs []byte
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Role, &m.Index,
			&m.Content, &m.Tokens, &chunkIDs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(chunkIDs) > 0 {
			if err := json.Unmarshal(chunkIDs, &m.ChunkIDs); err != nil {
				return nil, fmt.Errorf("decode chunk ids: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
