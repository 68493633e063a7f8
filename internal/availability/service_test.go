package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/tenant"
)

type directoryStub struct {
	tenant tenant.Tenant
	err    error
}

func (d *directoryStub) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	if d.err != nil {
		return tenant.Tenant{}, d.err
	}
	return d.tenant, nil
}

type appointmentSourceStub struct {
	appointments []persistence.Appointment
	err          error
	gotFilter    persistence.AppointmentFilter
}

func (a *appointmentSourceStub) ListAppointments(ctx context.Context, filter persistence.AppointmentFilter) ([]persistence.Appointment, error) {
	a.gotFilter = filter
	if a.err != nil {
		return nil, a.err
	}
	return a.appointments, nil
}

type busySourceStub struct {
	intervals []Interval
	err       error
	calls     int
}

func (b *busySourceStub) BusyIntervals(ctx context.Context, tenantID string, from, to time.Time) ([]Interval, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.intervals, nil
}

func weekdayHours(open, closing int) tenant.WeekHours {
	var hours tenant.WeekHours
	for day := time.Monday; day <= time.Friday; day++ {
		hours[int(day)] = &tenant.DayHours{OpenMinute: open, CloseMinute: closing}
	}
	return hours
}

func testTenant() tenant.Tenant {
	return tenant.Tenant{
		ID:              "tenant-1",
		Name:            "Main Street Garage",
		Timezone:        "America/New_York",
		DurationMinutes: 120,
		Hours:           weekdayHours(8*60, 18*60),
	}
}

func TestServiceSlotsForDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	monday := time.Date(2026, time.June, 8, 0, 0, 0, 0, loc)

	t.Run("local appointment excluded from offers", func(t *testing.T) {
		appointments := &appointmentSourceStub{appointments: []persistence.Appointment{{
			ID:              "appt-1",
			TenantID:        "tenant-1",
			ScheduledAt:     time.Date(2026, time.June, 8, 10, 0, 0, 0, loc),
			DurationMinutes: 120,
			Status:          persistence.AppointmentStatusConfirmed,
		}}}
		service := NewService(&directoryStub{tenant: testTenant()}, appointments, nil, 30*time.Minute, nil)

		slots, err := service.SlotsForDate(context.Background(), "tenant-1", monday)
		if err != nil {
			t.Fatalf("SlotsForDate returned error: %v", err)
		}
		if len(slots) != 10 {
			t.Fatalf("expected 10 slots, got %d", len(slots))
		}
		if !appointments.gotFilter.ActiveOnly {
			t.Error("expected ActiveOnly filter for busy computation")
		}
	})

	t.Run("closed day", func(t *testing.T) {
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{}, nil, 30*time.Minute, nil)
		sunday := time.Date(2026, time.June, 7, 0, 0, 0, 0, loc)

		if _, err := service.SlotsForDate(context.Background(), "tenant-1", sunday); !errors.Is(err, ErrDayClosed) {
			t.Fatalf("expected ErrDayClosed, got %v", err)
		}
	})

	t.Run("external failure degrades to local availability", func(t *testing.T) {
		external := &busySourceStub{err: errors.New("calendar unreachable")}
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{}, external, 30*time.Minute, nil)

		slots, err := service.SlotsForDate(context.Background(), "tenant-1", monday)
		if err != nil {
			t.Fatalf("SlotsForDate returned error: %v", err)
		}
		if external.calls != 1 {
			t.Fatalf("expected one external call, got %d", external.calls)
		}
		if len(slots) != 17 {
			t.Fatalf("expected full local grid of 17 slots, got %d", len(slots))
		}
	})

	t.Run("external busy intervals subtract", func(t *testing.T) {
		external := &busySourceStub{intervals: []Interval{{
			Start: time.Date(2026, time.June, 8, 8, 0, 0, 0, loc),
			End:   time.Date(2026, time.June, 8, 16, 0, 0, 0, loc),
		}}}
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{}, external, 30*time.Minute, nil)

		slots, err := service.SlotsForDate(context.Background(), "tenant-1", monday)
		if err != nil {
			t.Fatalf("SlotsForDate returned error: %v", err)
		}
		if len(slots) != 1 {
			t.Fatalf("expected a single 16:00 slot, got %d", len(slots))
		}
		if want := time.Date(2026, time.June, 8, 16, 0, 0, 0, loc); !slots[0].Start.Equal(want) {
			t.Fatalf("slot starts %v, want %v", slots[0].Start, want)
		}
	})

	t.Run("local storage failure surfaces", func(t *testing.T) {
		appointments := &appointmentSourceStub{err: errors.New("disk gone")}
		service := NewService(&directoryStub{tenant: testTenant()}, appointments, nil, 30*time.Minute, nil)

		if _, err := service.SlotsForDate(context.Background(), "tenant-1", monday); err == nil {
			t.Fatal("expected error when local listing fails")
		}
	})
}

func TestServiceWindowFree(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	taken := persistence.Appointment{
		ID:              "appt-1",
		TenantID:        "tenant-1",
		ScheduledAt:     time.Date(2026, time.June, 8, 10, 0, 0, 0, loc),
		DurationMinutes: 120,
		Status:          persistence.AppointmentStatusConfirmed,
	}

	t.Run("conflict detected", func(t *testing.T) {
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{appointments: []persistence.Appointment{taken}}, nil, 30*time.Minute, nil)

		free, err := service.WindowFree(context.Background(), "tenant-1",
			time.Date(2026, time.June, 8, 11, 0, 0, 0, loc),
			time.Date(2026, time.June, 8, 13, 0, 0, 0, loc))
		if err != nil {
			t.Fatalf("WindowFree returned error: %v", err)
		}
		if free {
			t.Fatal("expected window to be taken")
		}
	})

	t.Run("abutting window is free", func(t *testing.T) {
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{appointments: []persistence.Appointment{taken}}, nil, 30*time.Minute, nil)

		free, err := service.WindowFree(context.Background(), "tenant-1",
			time.Date(2026, time.June, 8, 12, 0, 0, 0, loc),
			time.Date(2026, time.June, 8, 14, 0, 0, 0, loc))
		if err != nil {
			t.Fatalf("WindowFree returned error: %v", err)
		}
		if !free {
			t.Fatal("expected abutting window to be free")
		}
	})

	t.Run("closed day is never free", func(t *testing.T) {
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{}, nil, 30*time.Minute, nil)

		free, err := service.WindowFree(context.Background(), "tenant-1",
			time.Date(2026, time.June, 7, 10, 0, 0, 0, loc),
			time.Date(2026, time.June, 7, 12, 0, 0, 0, loc))
		if err != nil {
			t.Fatalf("WindowFree returned error: %v", err)
		}
		if free {
			t.Fatal("sunday window must not be free")
		}
	})

	t.Run("window before opening is not free", func(t *testing.T) {
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{}, nil, 30*time.Minute, nil)

		free, err := service.WindowFree(context.Background(), "tenant-1",
			time.Date(2026, time.June, 8, 3, 0, 0, 0, loc),
			time.Date(2026, time.June, 8, 5, 0, 0, 0, loc))
		if err != nil {
			t.Fatalf("WindowFree returned error: %v", err)
		}
		if free {
			t.Fatal("3 AM window must not be free")
		}
	})

	t.Run("window overrunning close is not free", func(t *testing.T) {
		service := NewService(&directoryStub{tenant: testTenant()}, &appointmentSourceStub{}, nil, 30*time.Minute, nil)

		free, err := service.WindowFree(context.Background(), "tenant-1",
			time.Date(2026, time.June, 8, 17, 0, 0, 0, loc),
			time.Date(2026, time.June, 8, 19, 0, 0, 0, loc))
		if err != nil {
			t.Fatalf("WindowFree returned error: %v", err)
		}
		if free {
			t.Fatal("window past closing must not be free")
		}
	})

	t.Run("tenant lookup failure surfaces", func(t *testing.T) {
		service := NewService(&directoryStub{err: errors.New("directory down")}, &appointmentSourceStub{}, nil, 30*time.Minute, nil)

		if _, err := service.WindowFree(context.Background(), "tenant-1",
			time.Date(2026, time.June, 8, 11, 0, 0, 0, loc),
			time.Date(2026, time.June, 8, 13, 0, 0, 0, loc)); err == nil {
			t.Fatal("expected error when tenant lookup fails")
		}
	})
}
