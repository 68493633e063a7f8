package sqlite

import (
	"context"
	"fmt"
)

// schemaStatements is applied in order on startup. Statements are idempotent
// so Migrate can run on every boot.
//
// The unique index on (tenant_id, idempotency_key) is the authoritative
// arbiter for replayed commits, and the unique index on active appointment
// windows arbitrates two commits racing for the same slot: the loser surfaces
// as a duplicate error instead of a double booking. Both indexes are partial
// on non-cancelled rows, so cancelling an appointment frees its slot and its
// idempotency key for a fresh booking.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		timezone         TEXT NOT NULL,
		calendar_id      TEXT NOT NULL DEFAULT '',
		api_key_hash     TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
		hours_json       TEXT NOT NULL,
		resources_json   TEXT NOT NULL DEFAULT '[]',
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id                   TEXT PRIMARY KEY,
		tenant_id            TEXT NOT NULL REFERENCES tenants(id),
		resource_id          TEXT,
		counterparty_contact TEXT NOT NULL,
		scheduled_at         TEXT NOT NULL,
		duration_minutes     INTEGER NOT NULL CHECK (duration_minutes > 0),
		status               TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'completed')),
		external_event_id    TEXT,
		idempotency_key      TEXT NOT NULL,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	)`,

	// The index predates the status predicate under this name; drop it so
	// the partial definition below takes effect on existing databases.
	`DROP INDEX IF EXISTS idx_appointments_idempotency`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_active_idempotency
		ON appointments (tenant_id, idempotency_key)
		WHERE status != 'cancelled'`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_active_window
		ON appointments (tenant_id, COALESCE(resource_id, ''), scheduled_at)
		WHERE status != 'cancelled'`,

	`CREATE INDEX IF NOT EXISTS idx_appointments_tenant_time
		ON appointments (tenant_id, scheduled_at)`,

	`CREATE TABLE IF NOT EXISTS event_mirrors (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL REFERENCES tenants(id),
		appointment_id    TEXT REFERENCES appointments(id),
		title             TEXT NOT NULL,
		start_time        TEXT NOT NULL,
		end_time          TEXT NOT NULL,
		external_event_id TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_event_mirrors_tenant_time
		ON event_mirrors (tenant_id, start_time)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_mirrors_external
		ON event_mirrors (tenant_id, external_event_id)
		WHERE external_event_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS conversations (
		tenant_id        TEXT NOT NULL REFERENCES tenants(id),
		counterparty     TEXT NOT NULL,
		state            TEXT NOT NULL,
		payload          TEXT NOT NULL DEFAULT '{}',
		attempt_count    INTEGER NOT NULL DEFAULT 0,
		last_activity_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, counterparty)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_conversations_activity
		ON conversations (last_activity_at)`,

	`CREATE TABLE IF NOT EXISTS calendar_links (
		tenant_id     TEXT PRIMARY KEY REFERENCES tenants(id),
		access_token  TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at    TEXT,
		connected     INTEGER NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *ConnectionPool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
