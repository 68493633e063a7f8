package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/booking-engine/internal/persistence"
)

// EventRepository implements persistence.EventRepository using SQLite.
type EventRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(pool *ConnectionPool) *EventRepository {
	return &EventRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const eventColumns = "id, tenant_id, appointment_id, title, start_time, end_time, external_event_id, created_at, updated_at"

// GetEvent retrieves an event mirror by ID.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (persistence.EventMirror, error) {
	if id == "" {
		return persistence.EventMirror{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM event_mirrors WHERE id = ?", id)

	event, err := scanEventFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.EventMirror{}, persistence.ErrNotFound
		}
		return persistence.EventMirror{}, r.mapper.MapError(err)
	}
	return event, nil
}

// ListEvents lists the tenant's event mirrors overlapping [from, to) ordered
// by start time.
func (r *EventRepository) ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]persistence.EventMirror, error) {
	query := "SELECT " + eventColumns + ` FROM event_mirrors
		WHERE tenant_id = ? AND end_time > ? AND start_time < ?
		ORDER BY start_time ASC, id ASC`

	rows, err := r.helper.Query(ctx, query,
		tenantID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	return r.collectEvents(rows)
}

// ListUnsyncedEvents lists event mirrors that have no external counterpart
// yet, oldest first, for the backfill pass.
func (r *EventRepository) ListUnsyncedEvents(ctx context.Context, tenantID string) ([]persistence.EventMirror, error) {
	query := "SELECT " + eventColumns + ` FROM event_mirrors
		WHERE tenant_id = ? AND external_event_id IS NULL
		ORDER BY start_time ASC, id ASC`

	rows, err := r.helper.Query(ctx, query, tenantID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	return r.collectEvents(rows)
}

// UpdateEvent rewrites the mutable fields of an event mirror.
func (r *EventRepository) UpdateEvent(ctx context.Context, event persistence.EventMirror) error {
	if event.ID == "" {
		return persistence.ErrConstraintViolation
	}

	result, err := r.helper.Exec(ctx,
		`UPDATE event_mirrors SET title = ?, start_time = ?, end_time = ?, updated_at = ? WHERE id = ?`,
		event.Title,
		event.Start.UTC().Format(time.RFC3339),
		event.End.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		event.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

// DeleteEvent removes an event mirror.
func (r *EventRepository) DeleteEvent(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, "DELETE FROM event_mirrors WHERE id = ?", id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

// ClearExternalEventID drops the external association, marking the mirror as
// purely local again.
func (r *EventRepository) ClearExternalEventID(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx,
		"UPDATE event_mirrors SET external_event_id = NULL, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

// SetExternalEventID records the external calendar event backing the mirror.
func (r *EventRepository) SetExternalEventID(ctx context.Context, id, externalEventID string) error {
	result, err := r.helper.Exec(ctx,
		"UPDATE event_mirrors SET external_event_id = ?, updated_at = ? WHERE id = ?",
		externalEventID, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

func (r *EventRepository) collectEvents(rows *sql.Rows) ([]persistence.EventMirror, error) {
	events := make([]persistence.EventMirror, 0)
	for rows.Next() {
		event, err := scanEventFrom(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return events, nil
}

func scanEventFrom(scanner rowScanner) (persistence.EventMirror, error) {
	var event persistence.EventMirror
	var appointmentID, externalEventID sql.NullString
	var startStr, endStr, createdAtStr, updatedAtStr string

	err := scanner.Scan(
		&event.ID,
		&event.TenantID,
		&appointmentID,
		&event.Title,
		&startStr,
		&endStr,
		&externalEventID,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.EventMirror{}, err
	}

	if appointmentID.Valid {
		event.AppointmentID = &appointmentID.String
	}
	if externalEventID.Valid {
		event.ExternalEventID = &externalEventID.String
	}

	if event.Start, err = parseTimestamp(startStr); err != nil {
		return persistence.EventMirror{}, fmt.Errorf("parse start_time: %w", err)
	}
	if event.End, err = parseTimestamp(endStr); err != nil {
		return persistence.EventMirror{}, fmt.Errorf("parse end_time: %w", err)
	}
	if event.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return persistence.EventMirror{}, fmt.Errorf("parse created_at: %w", err)
	}
	if event.UpdatedAt, err = parseTimestamp(updatedAtStr); err != nil {
		return persistence.EventMirror{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return event, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
