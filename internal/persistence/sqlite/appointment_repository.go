package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/booking-engine/internal/persistence"
)

// AppointmentRepository implements persistence.AppointmentRepository using SQLite.
type AppointmentRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewAppointmentRepository creates a new SQLite appointment repository.
func NewAppointmentRepository(pool *ConnectionPool) *AppointmentRepository {
	return &AppointmentRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// CreateBooking inserts the appointment and its event mirror in one
// transaction. A duplicate idempotency key or an occupied active window
// surfaces as persistence.ErrDuplicate with nothing written.
func (r *AppointmentRepository) CreateBooking(ctx context.Context, appointment persistence.Appointment, mirror persistence.EventMirror) error {
	if appointment.ID == "" || appointment.TenantID == "" || appointment.IdempotencyKey == "" {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	if appointment.CreatedAt.IsZero() {
		appointment.CreatedAt = now
	}
	appointment.UpdatedAt = now
	if mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = now
	}
	mirror.UpdatedAt = now

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			query := `
				INSERT INTO appointments (id, tenant_id, resource_id, counterparty_contact, scheduled_at, duration_minutes, status, external_event_id, idempotency_key, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`

			_, err := r.helper.ExecTx(tx, query,
				appointment.ID,
				appointment.TenantID,
				nullString(appointment.ResourceID),
				appointment.CounterpartyContact,
				appointment.ScheduledAt.UTC().Format(time.RFC3339),
				appointment.DurationMinutes,
				appointment.Status,
				nullString(appointment.ExternalEventID),
				appointment.IdempotencyKey,
				appointment.CreatedAt.Format(time.RFC3339),
				appointment.UpdatedAt.Format(time.RFC3339),
			)
			if err != nil {
				return r.mapper.MapError(err)
			}

			query = `
				INSERT INTO event_mirrors (id, tenant_id, appointment_id, title, start_time, end_time, external_event_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`

			_, err = r.helper.ExecTx(tx, query,
				mirror.ID,
				mirror.TenantID,
				appointment.ID,
				mirror.Title,
				mirror.Start.UTC().Format(time.RFC3339),
				mirror.End.UTC().Format(time.RFC3339),
				nullString(mirror.ExternalEventID),
				mirror.CreatedAt.Format(time.RFC3339),
				mirror.UpdatedAt.Format(time.RFC3339),
			)
			if err != nil {
				return r.mapper.MapError(err)
			}

			return nil
		})
	})
}

const appointmentColumns = "id, tenant_id, resource_id, counterparty_contact, scheduled_at, duration_minutes, status, external_event_id, idempotency_key, created_at, updated_at"

// GetAppointment retrieves an appointment by ID.
func (r *AppointmentRepository) GetAppointment(ctx context.Context, id string) (persistence.Appointment, error) {
	if id == "" {
		return persistence.Appointment{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx,
		"SELECT "+appointmentColumns+" FROM appointments WHERE id = ?", id)
	return r.scanAppointment(row)
}

// GetAppointmentByIdempotencyKey retrieves the appointment committed under
// the given key, if any.
func (r *AppointmentRepository) GetAppointmentByIdempotencyKey(ctx context.Context, tenantID, key string) (persistence.Appointment, error) {
	if tenantID == "" || key == "" {
		return persistence.Appointment{}, persistence.ErrNotFound
	}

	// A cancelled predecessor can share the key with its active
	// replacement; the active row wins.
	row := r.helper.QueryRow(ctx,
		"SELECT "+appointmentColumns+" FROM appointments WHERE tenant_id = ? AND idempotency_key = ? ORDER BY status = 'cancelled', created_at DESC",
		tenantID, key)
	return r.scanAppointment(row)
}

// ListAppointments lists appointments matching the filter ordered by start time.
func (r *AppointmentRepository) ListAppointments(ctx context.Context, filter persistence.AppointmentFilter) ([]persistence.Appointment, error) {
	query := "SELECT " + appointmentColumns + " FROM appointments WHERE tenant_id = ?"
	args := []interface{}{filter.TenantID}

	if filter.StartsAfter != nil {
		// Window overlap: keep rows whose end is past the lower bound.
		query += " AND datetime(scheduled_at, '+' || duration_minutes || ' minutes') > datetime(?)"
		args = append(args, filter.StartsAfter.UTC().Format(time.RFC3339))
	}
	if filter.EndsBefore != nil {
		query += " AND scheduled_at < ?"
		args = append(args, filter.EndsBefore.UTC().Format(time.RFC3339))
	}
	if filter.ActiveOnly {
		query += " AND status != ?"
		args = append(args, persistence.AppointmentStatusCancelled)
	}
	query += " ORDER BY scheduled_at ASC, id ASC"

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	appointments := make([]persistence.Appointment, 0)
	for rows.Next() {
		appointment, err := r.scanAppointmentRows(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return appointments, nil
}

// UpdateAppointmentStatus transitions an appointment to a new status.
func (r *AppointmentRepository) UpdateAppointmentStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return persistence.ErrConstraintViolation
	}

	result, err := r.helper.Exec(ctx,
		"UPDATE appointments SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return r.mapper.MapError(err)
	}

	return requireRow(result)
}

// SetExternalEventID records the external calendar event created for the
// appointment after a successful push.
func (r *AppointmentRepository) SetExternalEventID(ctx context.Context, appointmentID, externalEventID string) error {
	result, err := r.helper.Exec(ctx,
		"UPDATE appointments SET external_event_id = ?, updated_at = ? WHERE id = ?",
		externalEventID, time.Now().UTC().Format(time.RFC3339), appointmentID)
	if err != nil {
		return r.mapper.MapError(err)
	}

	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *AppointmentRepository) scanAppointment(row *sql.Row) (persistence.Appointment, error) {
	appointment, err := scanAppointmentFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Appointment{}, persistence.ErrNotFound
		}
		return persistence.Appointment{}, r.mapper.MapError(err)
	}
	return appointment, nil
}

func (r *AppointmentRepository) scanAppointmentRows(rows *sql.Rows) (persistence.Appointment, error) {
	appointment, err := scanAppointmentFrom(rows)
	if err != nil {
		return persistence.Appointment{}, r.mapper.MapError(err)
	}
	return appointment, nil
}

func scanAppointmentFrom(scanner rowScanner) (persistence.Appointment, error) {
	var appointment persistence.Appointment
	var resourceID, externalEventID sql.NullString
	var scheduledAtStr, createdAtStr, updatedAtStr string

	err := scanner.Scan(
		&appointment.ID,
		&appointment.TenantID,
		&resourceID,
		&appointment.CounterpartyContact,
		&scheduledAtStr,
		&appointment.DurationMinutes,
		&appointment.Status,
		&externalEventID,
		&appointment.IdempotencyKey,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.Appointment{}, err
	}

	if resourceID.Valid {
		appointment.ResourceID = &resourceID.String
	}
	if externalEventID.Valid {
		appointment.ExternalEventID = &externalEventID.String
	}

	if appointment.ScheduledAt, err = parseTimestamp(scheduledAtStr); err != nil {
		return persistence.Appointment{}, fmt.Errorf("parse scheduled_at: %w", err)
	}
	if appointment.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return persistence.Appointment{}, fmt.Errorf("parse created_at: %w", err)
	}
	if appointment.UpdatedAt, err = parseTimestamp(updatedAtStr); err != nil {
		return persistence.Appointment{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return appointment, nil
}

func validStatus(status string) bool {
	switch status {
	case persistence.AppointmentStatusPending,
		persistence.AppointmentStatusConfirmed,
		persistence.AppointmentStatusCancelled,
		persistence.AppointmentStatusCompleted:
		return true
	}
	return false
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(value))
}
