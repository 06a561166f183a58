package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docquery/internal/models"
)

const convColumns = `id, tenant_id, user_id, document_id, active, message_count, total_tokens, total_cost,
	summary, summary_generated_at, last_summarized_index, summary_message_count, created_at, updated_at`

// GetOrCreateActiveConversation returns the single active conversation for
// (tenant, user, document), creating it when absent. Two concurrent
// creators race on the uniqueness constraint; the loser re-reads the
// winning row instead of surfacing the duplicate.
func (s *Store) GetOrCreateActiveConversation(ctx context.Context, tenantID, userID, documentID int64) (*models.Conversation, error) {
	conv, err := s.activeConversation(ctx, tenantID, userID, documentID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	conv, err = s.insertActiveConversation(ctx, tenantID, userID, documentID)
	if errors.Is(err, models.ErrDuplicateActiveConversation) {
		// Lost the race: another request created the active row first.
		return s.activeConversation(ctx, tenantID, userID, documentID)
	}
	return conv, err
}

func (s *Store) insertActiveConversation(ctx context.Context, tenantID, userID, documentID int64) (*models.Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (tenant_id, user_id, document_id, active, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		tenantID, userID, documentID, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("active conversation for user %d on document %d: %w",
				userID, documentID, models.ErrDuplicateActiveConversation)
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{
		ID:         id,
		TenantID:   tenantID,
		UserID:     userID,
		DocumentID: documentID,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetConversation fetches one conversation by (tenant, id).
func (s *Store) GetConversation(ctx context.Context, tenantID, id int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+convColumns+` FROM conversations WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) activeConversation(ctx context.Context, tenantID, userID, documentID int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+convColumns+` FROM conversations
		 WHERE tenant_id = ? AND user_id = ? AND document_id = ? AND active = 1`,
		tenantID, userID, documentID,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("active conversation: %w", err)
	}
	return conv, nil
}

// IncrementMessageCount atomically bumps the counter and returns the new
// value. Message indexes are derived from it (index = newCount - 1). The
// update and the read-back share one transaction, so the row lock held by
// the update makes concurrent appenders observe distinct counter values.
func (s *Store) IncrementMessageCount(ctx context.Context, tenantID, conversationID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		time.Now().UTC(), conversationID, tenantID,
	)
	if err != nil {
		return 0, fmt.Errorf("increment message count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message count rows affected: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("conversation %d: %w", conversationID, models.ErrNotFound)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT message_count FROM conversations WHERE id = ? AND tenant_id = ?`,
		conversationID, tenantID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("read message count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message count: %w", err)
	}
	return count, nil
}

// AddConversationUsage accumulates token and cost counters.
func (s *Store) AddConversationUsage(ctx context.Context, tenantID, conversationID int64, tokens int, cost float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET total_tokens = total_tokens + ?, total_cost = total_cost + ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		tokens, cost, time.Now().UTC(), conversationID, tenantID,
	); err != nil {
		return fmt.Errorf("add conversation usage: %w", err)
	}
	return nil
}

// SaveConversationSummary persists a regenerated summary together with the
// cursor state the summarization tier uses for staleness checks.
func (s *Store) SaveConversationSummary(ctx context.Context, tenantID, conversationID int64, summary string, lastSummarizedIndex, summaryMessageCount int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET summary = ?, summary_generated_at = ?, last_summarized_index = ?, summary_message_count = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		summary, time.Now().UTC(), lastSummarizedIndex, summaryMessageCount, time.Now().UTC(), conversationID, tenantID,
	); err != nil {
		return fmt.Errorf("save conversation summary: %w", err)
	}
	return nil
}

// CloseConversation deactivates the thread. active is set to NULL rather
// than 0 so closed rows never collide on the uniqueness constraint.
func (s *Store) CloseConversation(ctx context.Context, tenantID, conversationID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET active = NULL, updated_at = ? WHERE id = ? AND tenant_id = ? AND active = 1`,
		time.Now().UTC(), conversationID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %d: %w", conversationID, models.ErrNotFound)
	}
	return nil
}

func scanConversation(row *sql.Row) (*models.Conversation, error) {
	var (
		conv        models.Conversation
		active      sql.NullInt64
		summary     sql.NullString
		generatedAt sql.NullTime
	)
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.UserID, &conv.DocumentID, &active,
		&conv.MessageCount, &conv.TotalTokens, &conv.TotalCost,
		&summary, &generatedAt, &conv.LastSummarizedIndex, &conv.SummaryMessageCount,
		&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Active = active.Valid && active.Int64 == 1
	conv.Summary = summary.String
	if generatedAt.Valid {
		t := generatedAt.Time
		conv.SummaryGeneratedAt = &t
	}
	return &conv, nil
}
