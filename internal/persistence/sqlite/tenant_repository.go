package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/tenant"
)

// TenantRepository implements tenant.Directory using SQLite. Business hours
// and the resource catalog are stored as JSON columns.
type TenantRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewTenantRepository creates a new SQLite tenant repository.
func NewTenantRepository(pool *ConnectionPool) *TenantRepository {
	return &TenantRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const tenantColumns = "id, name, timezone, calendar_id, api_key_hash, duration_minutes, hours_json, resources_json, created_at, updated_at"

// GetTenant retrieves a tenant by ID.
func (r *TenantRepository) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	if id == "" {
		return tenant.Tenant{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = ?", id)

	t, err := scanTenantFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenant.Tenant{}, persistence.ErrNotFound
		}
		return tenant.Tenant{}, r.mapper.MapError(err)
	}
	return t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (r *TenantRepository) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := r.helper.Query(ctx,
		"SELECT "+tenantColumns+" FROM tenants ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	tenants := make([]tenant.Tenant, 0)
	for rows.Next() {
		t, err := scanTenantFrom(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return tenants, nil
}

// UpsertTenant inserts or replaces a tenant's configuration.
func (r *TenantRepository) UpsertTenant(ctx context.Context, t tenant.Tenant) error {
	if t.ID == "" || t.Timezone == "" || t.DurationMinutes <= 0 {
		return persistence.ErrConstraintViolation
	}

	hours, err := json.Marshal(t.Hours)
	if err != nil {
		return fmt.Errorf("marshal hours: %w", err)
	}
	resources, err := json.Marshal(t.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	query := `
		INSERT INTO tenants (id, name, timezone, calendar_id, api_key_hash, duration_minutes, hours_json, resources_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			calendar_id = excluded.calendar_id,
			api_key_hash = excluded.api_key_hash,
			duration_minutes = excluded.duration_minutes,
			hours_json = excluded.hours_json,
			resources_json = excluded.resources_json,
			updated_at = excluded.updated_at
	`

	_, err = r.helper.Exec(ctx, query,
		t.ID,
		t.Name,
		t.Timezone,
		t.CalendarID,
		t.APIKeyHash,
		t.DurationMinutes,
		string(hours),
		string(resources),
		t.CreatedAt.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

func scanTenantFrom(scanner rowScanner) (tenant.Tenant, error) {
	var t tenant.Tenant
	var hoursJSON, resourcesJSON string
	var createdAtStr, updatedAtStr string

	err := scanner.Scan(
		&t.ID,
		&t.Name,
		&t.Timezone,
		&t.CalendarID,
		&t.APIKeyHash,
		&t.DurationMinutes,
		&hoursJSON,
		&resourcesJSON,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return tenant.Tenant{}, err
	}

	if err := json.Unmarshal([]byte(hoursJSON), &t.Hours); err != nil {
		return tenant.Tenant{}, fmt.Errorf("unmarshal hours: %w", err)
	}
	if resourcesJSON != "" {
		if err := json.Unmarshal([]byte(resourcesJSON), &t.Resources); err != nil {
			return tenant.Tenant{}, fmt.Errorf("unmarshal resources: %w", err)
		}
	}

	if t.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return tenant.Tenant{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTimestamp(updatedAtStr); err != nil {
		return tenant.Tenant{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return t, nil
}
