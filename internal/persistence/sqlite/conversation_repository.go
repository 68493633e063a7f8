package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/booking-engine/internal/persistence"
)

// ConversationRepository implements persistence.ConversationRepository using SQLite.
type ConversationRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewConversationRepository creates a new SQLite conversation repository.
func NewConversationRepository(pool *ConnectionPool) *ConversationRepository {
	return &ConversationRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// GetConversation retrieves the dialogue state for a (tenant, counterparty) pair.
func (r *ConversationRepository) GetConversation(ctx context.Context, tenantID, counterparty string) (persistence.ConversationRecord, error) {
	if tenantID == "" || counterparty == "" {
		return persistence.ConversationRecord{}, persistence.ErrNotFound
	}

	query := `
		SELECT tenant_id, counterparty, state, payload, attempt_count, last_activity_at
		FROM conversations
		WHERE tenant_id = ? AND counterparty = ?
	`

	var record persistence.ConversationRecord
	var payload string
	var lastActivityStr string

	err := r.helper.QueryRow(ctx, query, tenantID, counterparty).Scan(
		&record.TenantID,
		&record.Counterparty,
		&record.State,
		&payload,
		&record.AttemptCount,
		&lastActivityStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ConversationRecord{}, persistence.ErrNotFound
		}
		return persistence.ConversationRecord{}, r.mapper.MapError(err)
	}

	record.Payload = []byte(payload)
	if record.LastActivityAt, err = parseTimestamp(lastActivityStr); err != nil {
		return persistence.ConversationRecord{}, fmt.Errorf("parse last_activity_at: %w", err)
	}

	return record, nil
}

// PutConversation inserts or replaces the dialogue state for the pair.
func (r *ConversationRepository) PutConversation(ctx context.Context, record persistence.ConversationRecord) error {
	if record.TenantID == "" || record.Counterparty == "" {
		return persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO conversations (tenant_id, counterparty, state, payload, attempt_count, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, counterparty) DO UPDATE SET
			state = excluded.state,
			payload = excluded.payload,
			attempt_count = excluded.attempt_count,
			last_activity_at = excluded.last_activity_at
	`

	payload := record.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, query,
			record.TenantID,
			record.Counterparty,
			record.State,
			string(payload),
			record.AttemptCount,
			record.LastActivityAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
}

// DeleteExpiredConversations removes dialogue state idle since before the cutoff.
func (r *ConversationRepository) DeleteExpiredConversations(ctx context.Context, before time.Time) error {
	_, err := r.helper.Exec(ctx,
		"DELETE FROM conversations WHERE last_activity_at < ?",
		before.UTC().Format(time.RFC3339))
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}
