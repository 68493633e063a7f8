package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/booking-engine/internal/persistence"
)

// CalendarLinkRepository implements persistence.CalendarLinkRepository using SQLite.
type CalendarLinkRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewCalendarLinkRepository creates a new SQLite calendar link repository.
func NewCalendarLinkRepository(pool *ConnectionPool) *CalendarLinkRepository {
	return &CalendarLinkRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// GetCalendarLink retrieves the tenant's external calendar credentials.
func (r *CalendarLinkRepository) GetCalendarLink(ctx context.Context, tenantID string) (persistence.CalendarLink, error) {
	if tenantID == "" {
		return persistence.CalendarLink{}, persistence.ErrNotFound
	}

	query := `
		SELECT tenant_id, access_token, refresh_token, expires_at, connected, updated_at
		FROM calendar_links
		WHERE tenant_id = ?
	`

	var link persistence.CalendarLink
	var expiresAt sql.NullString
	var connected int
	var updatedAtStr string

	err := r.helper.QueryRow(ctx, query, tenantID).Scan(
		&link.TenantID,
		&link.AccessToken,
		&link.RefreshToken,
		&expiresAt,
		&connected,
		&updatedAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.CalendarLink{}, persistence.ErrNotFound
		}
		return persistence.CalendarLink{}, r.mapper.MapError(err)
	}

	link.Connected = connected != 0
	if expiresAt.Valid {
		parsed, err := parseTimestamp(expiresAt.String)
		if err != nil {
			return persistence.CalendarLink{}, fmt.Errorf("parse expires_at: %w", err)
		}
		link.ExpiresAt = &parsed
	}
	if link.UpdatedAt, err = parseTimestamp(updatedAtStr); err != nil {
		return persistence.CalendarLink{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return link, nil
}

// UpdateCalendarLink inserts or replaces the tenant's credential state.
func (r *CalendarLinkRepository) UpdateCalendarLink(ctx context.Context, link persistence.CalendarLink) error {
	if link.TenantID == "" {
		return persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO calendar_links (tenant_id, access_token, refresh_token, expires_at, connected, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			connected = excluded.connected,
			updated_at = excluded.updated_at
	`

	var expiresAt sql.NullString
	if link.ExpiresAt != nil {
		expiresAt = sql.NullString{String: link.ExpiresAt.UTC().Format(time.RFC3339), Valid: true}
	}

	connected := 0
	if link.Connected {
		connected = 1
	}

	_, err := r.helper.Exec(ctx, query,
		link.TenantID,
		link.AccessToken,
		link.RefreshToken,
		expiresAt,
		connected,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}
