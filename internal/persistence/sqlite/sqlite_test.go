package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/tenant"
)

func openTestPool(t *testing.T) *ConnectionPool {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	pool, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := Migrate(context.Background(), pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func seedTenant(t *testing.T, pool *ConnectionPool, id string) {
	t.Helper()
	hours := tenant.WeekHours{}
	for day := time.Monday; day <= time.Friday; day++ {
		hours[int(day)] = &tenant.DayHours{OpenMinute: 8 * 60, CloseMinute: 18 * 60}
	}
	err := NewTenantRepository(pool).UpsertTenant(context.Background(), tenant.Tenant{
		ID:              id,
		Name:            "Main Street Garage",
		Timezone:        "America/New_York",
		DurationMinutes: 120,
		Hours:           hours,
		Resources:       []tenant.Resource{{ID: "bay-1", Name: "Bay 1"}},
	})
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
}

func testAppointment(id, key string, at time.Time) persistence.Appointment {
	return persistence.Appointment{
		ID:                  id,
		TenantID:            "tenant-1",
		CounterpartyContact: "+15550001111",
		ScheduledAt:         at,
		DurationMinutes:     120,
		Status:              persistence.AppointmentStatusConfirmed,
		IdempotencyKey:      key,
	}
}

func testMirror(id, appointmentID string, at time.Time) persistence.EventMirror {
	return persistence.EventMirror{
		ID:            id,
		TenantID:      "tenant-1",
		AppointmentID: &appointmentID,
		Title:         "Appointment",
		Start:         at,
		End:           at.Add(2 * time.Hour),
	}
}

func TestTenantRepository(t *testing.T) {
	pool := openTestPool(t)
	repo := NewTenantRepository(pool)
	ctx := context.Background()
	seedTenant(t, pool, "tenant-1")

	t.Run("round trip", func(t *testing.T) {
		got, err := repo.GetTenant(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("GetTenant: %v", err)
		}
		if got.Timezone != "America/New_York" || got.DurationMinutes != 120 {
			t.Errorf("tenant = %+v", got)
		}
		hours, ok := got.Hours.ForWeekday(time.Monday)
		if !ok || hours.OpenMinute != 8*60 {
			t.Errorf("monday hours = %+v ok=%v", hours, ok)
		}
		if _, ok := got.Hours.ForWeekday(time.Sunday); ok {
			t.Error("sunday must be closed")
		}
		if len(got.Resources) != 1 || got.Resources[0].ID != "bay-1" {
			t.Errorf("resources = %+v", got.Resources)
		}
	})

	t.Run("upsert updates in place", func(t *testing.T) {
		updated, err := repo.GetTenant(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("GetTenant: %v", err)
		}
		updated.Name = "Renamed Garage"
		updated.DurationMinutes = 60
		if err := repo.UpsertTenant(ctx, updated); err != nil {
			t.Fatalf("UpsertTenant: %v", err)
		}

		got, err := repo.GetTenant(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("GetTenant: %v", err)
		}
		if got.Name != "Renamed Garage" || got.DurationMinutes != 60 {
			t.Errorf("tenant after update = %+v", got)
		}

		all, err := repo.ListTenants(ctx)
		if err != nil {
			t.Fatalf("ListTenants: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("tenants = %d, want 1", len(all))
		}
	})

	t.Run("missing tenant", func(t *testing.T) {
		if _, err := repo.GetTenant(ctx, "nope"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid tenant rejected", func(t *testing.T) {
		err := repo.UpsertTenant(ctx, tenant.Tenant{ID: "bad", Timezone: "America/New_York"})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})
}

func TestCreateBookingArbitration(t *testing.T) {
	pool := openTestPool(t)
	repo := NewAppointmentRepository(pool)
	ctx := context.Background()
	seedTenant(t, pool, "tenant-1")

	at := time.Date(2026, time.June, 11, 14, 0, 0, 0, time.UTC)
	if err := repo.CreateBooking(ctx, testAppointment("appt-1", "key-1", at), testMirror("ev-1", "appt-1", at)); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	t.Run("duplicate idempotency key", func(t *testing.T) {
		err := repo.CreateBooking(ctx, testAppointment("appt-2", "key-1", at.Add(4*time.Hour)), testMirror("ev-2", "appt-2", at.Add(4*time.Hour)))
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		if _, err := repo.GetAppointment(ctx, "appt-2"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatal("losing booking must write nothing")
		}
	})

	t.Run("occupied active window", func(t *testing.T) {
		err := repo.CreateBooking(ctx, testAppointment("appt-3", "key-3", at), testMirror("ev-3", "appt-3", at))
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("cancellation frees the window", func(t *testing.T) {
		if err := repo.UpdateAppointmentStatus(ctx, "appt-1", persistence.AppointmentStatusCancelled); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		err := repo.CreateBooking(ctx, testAppointment("appt-4", "key-4", at), testMirror("ev-4", "appt-4", at))
		if err != nil {
			t.Fatalf("rebooking freed window: %v", err)
		}
	})

	t.Run("replay lookup finds the committed row", func(t *testing.T) {
		got, err := repo.GetAppointmentByIdempotencyKey(ctx, "tenant-1", "key-4")
		if err != nil {
			t.Fatalf("GetAppointmentByIdempotencyKey: %v", err)
		}
		if got.ID != "appt-4" || !got.ScheduledAt.Equal(at) {
			t.Errorf("appointment = %+v", got)
		}
		if _, err := repo.GetAppointmentByIdempotencyKey(ctx, "tenant-1", "unknown"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("cancellation frees the idempotency key", func(t *testing.T) {
		// appt-1 (key-1) was cancelled above; the same customer rebooking
		// the same intent must get a fresh row, not a duplicate error.
		later := at.Add(4 * time.Hour)
		if err := repo.CreateBooking(ctx, testAppointment("appt-5", "key-1", later), testMirror("ev-5", "appt-5", later)); err != nil {
			t.Fatalf("rebooking after cancellation: %v", err)
		}

		got, err := repo.GetAppointmentByIdempotencyKey(ctx, "tenant-1", "key-1")
		if err != nil {
			t.Fatalf("GetAppointmentByIdempotencyKey: %v", err)
		}
		if got.ID != "appt-5" || got.Status != persistence.AppointmentStatusConfirmed {
			t.Fatalf("lookup must prefer the active row, got %+v", got)
		}
	})
}

func TestListAppointments(t *testing.T) {
	pool := openTestPool(t)
	repo := NewAppointmentRepository(pool)
	ctx := context.Background()
	seedTenant(t, pool, "tenant-1")

	morning := time.Date(2026, time.June, 11, 10, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, time.June, 11, 15, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{morning, afternoon} {
		id := fmt.Sprintf("appt-%d", i+1)
		if err := repo.CreateBooking(ctx, testAppointment(id, "key-"+id, at), testMirror("ev-"+id, id, at)); err != nil {
			t.Fatalf("seed booking %s: %v", id, err)
		}
	}
	if err := repo.UpdateAppointmentStatus(ctx, "appt-2", persistence.AppointmentStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	t.Run("straddling appointment stays in window", func(t *testing.T) {
		// The 10:00-12:00 booking straddles an 11:00 lower bound.
		lower := morning.Add(time.Hour)
		got, err := repo.ListAppointments(ctx, persistence.AppointmentFilter{TenantID: "tenant-1", StartsAfter: &lower})
		if err != nil {
			t.Fatalf("ListAppointments: %v", err)
		}
		if len(got) != 2 || got[0].ID != "appt-1" {
			t.Fatalf("appointments = %+v", got)
		}
	})

	t.Run("upper bound excludes later starts", func(t *testing.T) {
		upper := morning.Add(time.Hour)
		got, err := repo.ListAppointments(ctx, persistence.AppointmentFilter{TenantID: "tenant-1", EndsBefore: &upper})
		if err != nil {
			t.Fatalf("ListAppointments: %v", err)
		}
		if len(got) != 1 || got[0].ID != "appt-1" {
			t.Fatalf("appointments = %+v", got)
		}
	})

	t.Run("active only drops cancelled", func(t *testing.T) {
		got, err := repo.ListAppointments(ctx, persistence.AppointmentFilter{TenantID: "tenant-1", ActiveOnly: true})
		if err != nil {
			t.Fatalf("ListAppointments: %v", err)
		}
		if len(got) != 1 || got[0].ID != "appt-1" {
			t.Fatalf("appointments = %+v", got)
		}
	})

	t.Run("foreign tenant sees nothing", func(t *testing.T) {
		got, err := repo.ListAppointments(ctx, persistence.AppointmentFilter{TenantID: "tenant-2"})
		if err != nil {
			t.Fatalf("ListAppointments: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("appointments = %+v", got)
		}
	})
}

func TestEventRepository(t *testing.T) {
	pool := openTestPool(t)
	appointments := NewAppointmentRepository(pool)
	repo := NewEventRepository(pool)
	ctx := context.Background()
	seedTenant(t, pool, "tenant-1")

	at := time.Date(2026, time.June, 11, 14, 0, 0, 0, time.UTC)
	if err := appointments.CreateBooking(ctx, testAppointment("appt-1", "key-1", at), testMirror("ev-1", "appt-1", at)); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	t.Run("window listing", func(t *testing.T) {
		got, err := repo.ListEvents(ctx, "tenant-1", at.Add(-time.Hour), at.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(got) != 1 || got[0].ID != "ev-1" {
			t.Fatalf("events = %+v", got)
		}
		if got[0].AppointmentID == nil || *got[0].AppointmentID != "appt-1" {
			t.Errorf("mirror not linked: %+v", got[0])
		}

		none, err := repo.ListEvents(ctx, "tenant-1", at.Add(3*time.Hour), at.Add(4*time.Hour))
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(none) != 0 {
			t.Fatalf("events outside window = %+v", none)
		}
	})

	t.Run("external id lifecycle", func(t *testing.T) {
		pending, err := repo.ListUnsyncedEvents(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("ListUnsyncedEvents: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("unsynced = %d, want 1", len(pending))
		}

		if err := repo.SetExternalEventID(ctx, "ev-1", "ext-1"); err != nil {
			t.Fatalf("SetExternalEventID: %v", err)
		}
		pending, err = repo.ListUnsyncedEvents(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("ListUnsyncedEvents: %v", err)
		}
		if len(pending) != 0 {
			t.Fatalf("unsynced after sync = %d, want 0", len(pending))
		}

		if err := repo.ClearExternalEventID(ctx, "ev-1"); err != nil {
			t.Fatalf("ClearExternalEventID: %v", err)
		}
		got, err := repo.GetEvent(ctx, "ev-1")
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		if got.ExternalEventID != nil {
			t.Fatalf("external id not cleared: %+v", got)
		}
	})

	t.Run("update and delete", func(t *testing.T) {
		event, err := repo.GetEvent(ctx, "ev-1")
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		event.Title = "Rescheduled"
		event.Start = at.Add(time.Hour)
		event.End = at.Add(3 * time.Hour)
		if err := repo.UpdateEvent(ctx, event); err != nil {
			t.Fatalf("UpdateEvent: %v", err)
		}

		got, err := repo.GetEvent(ctx, "ev-1")
		if err != nil {
			t.Fatalf("GetEvent: %v", err)
		}
		if got.Title != "Rescheduled" || !got.Start.Equal(at.Add(time.Hour)) {
			t.Fatalf("event after update = %+v", got)
		}

		if err := repo.DeleteEvent(ctx, "ev-1"); err != nil {
			t.Fatalf("DeleteEvent: %v", err)
		}
		if _, err := repo.GetEvent(ctx, "ev-1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConversationRepository(t *testing.T) {
	pool := openTestPool(t)
	repo := NewConversationRepository(pool)
	ctx := context.Background()
	seedTenant(t, pool, "tenant-1")

	record := persistence.ConversationRecord{
		TenantID:       "tenant-1",
		Counterparty:   "+15550001111",
		State:          "awaiting_date",
		Payload:        []byte(`{"selected_date":null}`),
		AttemptCount:   1,
		LastActivityAt: time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC),
	}

	t.Run("upsert round trip", func(t *testing.T) {
		if err := repo.PutConversation(ctx, record); err != nil {
			t.Fatalf("PutConversation: %v", err)
		}

		record.State = "awaiting_time"
		record.AttemptCount = 2
		if err := repo.PutConversation(ctx, record); err != nil {
			t.Fatalf("PutConversation update: %v", err)
		}

		got, err := repo.GetConversation(ctx, "tenant-1", "+15550001111")
		if err != nil {
			t.Fatalf("GetConversation: %v", err)
		}
		if got.State != "awaiting_time" || got.AttemptCount != 2 {
			t.Fatalf("record = %+v", got)
		}
		if string(got.Payload) != `{"selected_date":null}` {
			t.Fatalf("payload = %s", got.Payload)
		}
	})

	t.Run("missing pair", func(t *testing.T) {
		if _, err := repo.GetConversation(ctx, "tenant-1", "stranger"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expiry cleanup", func(t *testing.T) {
		if err := repo.DeleteExpiredConversations(ctx, record.LastActivityAt.Add(time.Hour)); err != nil {
			t.Fatalf("DeleteExpiredConversations: %v", err)
		}
		if _, err := repo.GetConversation(ctx, "tenant-1", "+15550001111"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after cleanup, got %v", err)
		}
	})
}

func TestCalendarLinkRepository(t *testing.T) {
	pool := openTestPool(t)
	repo := NewCalendarLinkRepository(pool)
	ctx := context.Background()
	seedTenant(t, pool, "tenant-1")

	t.Run("missing link", func(t *testing.T) {
		if _, err := repo.GetCalendarLink(ctx, "tenant-1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("upsert round trip", func(t *testing.T) {
		expires := time.Date(2026, time.June, 10, 10, 0, 0, 0, time.UTC)
		link := persistence.CalendarLink{
			TenantID:     "tenant-1",
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    &expires,
			Connected:    true,
		}
		if err := repo.UpdateCalendarLink(ctx, link); err != nil {
			t.Fatalf("UpdateCalendarLink: %v", err)
		}

		got, err := repo.GetCalendarLink(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("GetCalendarLink: %v", err)
		}
		if !got.Connected || got.AccessToken != "access" {
			t.Fatalf("link = %+v", got)
		}
		if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
			t.Fatalf("expires_at = %v", got.ExpiresAt)
		}

		// Refresh rotation replaces the token pair.
		link.AccessToken = "access-2"
		link.ExpiresAt = nil
		link.Connected = false
		if err := repo.UpdateCalendarLink(ctx, link); err != nil {
			t.Fatalf("UpdateCalendarLink rotate: %v", err)
		}
		got, err = repo.GetCalendarLink(ctx, "tenant-1")
		if err != nil {
			t.Fatalf("GetCalendarLink: %v", err)
		}
		if got.Connected || got.AccessToken != "access-2" || got.ExpiresAt != nil {
			t.Fatalf("link after rotation = %+v", got)
		}
	})
}
