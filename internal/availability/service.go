package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/tenant"
)

// AppointmentSource exposes the committed local appointments overlapping a window.
type AppointmentSource interface {
	ListAppointments(ctx context.Context, filter persistence.AppointmentFilter) ([]persistence.Appointment, error)
}

// BusySource reports externally owned busy intervals for a window. The
// external calendar backs the production implementation.
type BusySource interface {
	BusyIntervals(ctx context.Context, tenantID string, from, to time.Time) ([]Interval, error)
}

// Service merges tenant business hours, committed local appointments and
// externally reported busy intervals into offerable slots.
type Service struct {
	tenants      tenant.Directory
	appointments AppointmentSource
	external     BusySource
	step         time.Duration
	logger       *slog.Logger
}

// NewService wires dependencies for availability computation. external may be
// nil when no calendar is linked.
func NewService(tenants tenant.Directory, appointments AppointmentSource, external BusySource, step time.Duration, logger *slog.Logger) *Service {
	if step <= 0 {
		step = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tenants:      tenants,
		appointments: appointments,
		external:     external,
		step:         step,
		logger:       logger,
	}
}

// SlotsForDate computes the ordered offerable slots for the civil date in the
// tenant's timezone. ErrDayClosed and ErrDurationTooLong pass through so the
// dialogue can phrase each case distinctly.
func (s *Service) SlotsForDate(ctx context.Context, tenantID string, date time.Time) ([]Slot, error) {
	if s == nil {
		return nil, fmt.Errorf("availability service is nil")
	}

	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	loc, err := t.Location()
	if err != nil {
		return nil, err
	}

	hours, ok := t.Hours.ForWeekday(date.In(loc).Weekday())
	if !ok {
		return nil, ErrDayClosed
	}

	duration := time.Duration(t.DurationMinutes) * time.Minute
	dayStart, dayEnd := dayBounds(date, loc)

	busy, err := s.busyIntervals(ctx, t, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	return SlotsForDay(date, loc, Window{OpenMinute: hours.OpenMinute, CloseMinute: hours.CloseMinute}, duration, s.step, busy)
}

// WindowFree re-verifies that a single requested window is still bookable:
// inside the tenant's business hours for that day and clear of committed
// local appointments. Only local appointments are consulted for conflicts:
// they are the authoritative record, and the commit path must not block on
// the external calendar.
func (s *Service) WindowFree(ctx context.Context, tenantID string, start, end time.Time) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("availability service is nil")
	}

	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("load tenant: %w", err)
	}
	loc, err := t.Location()
	if err != nil {
		return false, err
	}

	startLocal := start.In(loc)
	hours, ok := t.Hours.ForWeekday(startLocal.Weekday())
	if !ok {
		return false, nil
	}
	startMinute := startLocal.Hour()*60 + startLocal.Minute()
	endMinute := startMinute + int(end.Sub(start)/time.Minute)
	if startMinute < hours.OpenMinute || endMinute > hours.CloseMinute {
		return false, nil
	}

	local, err := s.localBusy(ctx, tenantID, start, end)
	if err != nil {
		return false, err
	}

	return Fits(start, end.Sub(start), local), nil
}

// busyIntervals merges local appointment windows with externally reported
// busy time. External failures degrade to local-only availability: the
// external calendar cannot be trusted to answer, and offering a slot that
// later conflicts is resolved by the commit-time recheck.
func (s *Service) busyIntervals(ctx context.Context, t tenant.Tenant, from, to time.Time) ([]Interval, error) {
	busy, err := s.localBusy(ctx, t.ID, from, to)
	if err != nil {
		return nil, err
	}

	if s.external != nil {
		external, err := s.external.BusyIntervals(ctx, t.ID, from, to)
		if err != nil {
			s.logger.WarnContext(ctx, "external busy lookup failed, using local availability only",
				"tenant_id", t.ID, "error", err)
		} else {
			busy = append(busy, external...)
		}
	}

	return busy, nil
}

func (s *Service) localBusy(ctx context.Context, tenantID string, from, to time.Time) ([]Interval, error) {
	if s.appointments == nil {
		return nil, nil
	}

	appointments, err := s.appointments.ListAppointments(ctx, persistence.AppointmentFilter{
		TenantID:    tenantID,
		StartsAfter: &from,
		EndsBefore:  &to,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	busy := make([]Interval, 0, len(appointments))
	for _, appointment := range appointments {
		busy = append(busy, Interval{Start: appointment.ScheduledAt, End: appointment.End()})
	}
	return busy, nil
}

// dayBounds returns the instants bracketing the civil date in loc.
func dayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	year, month, day := date.In(loc).Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
