// Package booking owns the idempotent commit path that turns a confirmed
// slot selection into the authoritative local appointment and, best effort,
// an external calendar event.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/booking-engine/internal/availability"
	"github.com/example/booking-engine/internal/calendar"
	"github.com/example/booking-engine/internal/persistence"
)

var (
	// ErrSlotNoLongerAvailable is returned when the requested window was
	// taken between slot presentation and confirmation. The caller returns
	// the customer to slot selection.
	ErrSlotNoLongerAvailable = errors.New("booking: slot no longer available")
	// ErrStorage is returned when the local transaction itself failed; the
	// only fatal outcome on the commit path.
	ErrStorage = errors.New("booking: storage failure")
)

// Outcome classifies a successful commit.
type Outcome string

const (
	// OutcomeAlreadyBooked means the idempotency key had already committed;
	// the existing appointment is returned unchanged.
	OutcomeAlreadyBooked Outcome = "already_booked"
	// OutcomeConfirmed means the local record exists and the external
	// calendar accepted the push.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeSyncDeferred means the local record exists but the external
	// push did not complete; reconciliation backfills it later.
	OutcomeSyncDeferred Outcome = "sync_deferred"
)

// Request carries one logical booking intent.
type Request struct {
	IdempotencyKey string
	TenantID       string
	Counterparty   string
	ResourceID     *string
	Slot           availability.Slot
	Title          string
}

// SlotChecker re-verifies a single window immediately before commit.
type SlotChecker interface {
	WindowFree(ctx context.Context, tenantID string, start, end time.Time) (bool, error)
}

// ExternalPusher pushes the committed booking to the external calendar with
// the shared refresh-and-retry policy.
type ExternalPusher interface {
	Create(ctx context.Context, tenantID string, event calendar.Event) (string, error)
}

// Committer creates the local appointment exactly once per idempotency key
// and propagates it outward without ever letting the external side undo the
// local commitment.
type Committer struct {
	appointments persistence.AppointmentRepository
	events       persistence.EventRepository
	checker      SlotChecker
	pusher       ExternalPusher
	pushTimeout  time.Duration
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewCommitter wires dependencies for the commit path. pusher may be nil when
// the tenant has no external calendar.
func NewCommitter(appointments persistence.AppointmentRepository, events persistence.EventRepository, checker SlotChecker, pusher ExternalPusher, pushTimeout time.Duration, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Committer {
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		appointments: appointments,
		events:       events,
		checker:      checker,
		pusher:       pusher,
		pushTimeout:  pushTimeout,
		idGenerator:  idGenerator,
		now:          now,
		logger:       logger,
	}
}

// Commit executes the booking. Replays with a previously committed
// idempotency key return the existing appointment as a no-op. A lost race on
// the slot returns ErrSlotNoLongerAvailable. Once the local transaction
// commits, external failures only downgrade the outcome to
// OutcomeSyncDeferred.
func (c *Committer) Commit(ctx context.Context, req Request) (persistence.Appointment, Outcome, error) {
	if c == nil {
		return persistence.Appointment{}, "", fmt.Errorf("Committer is nil")
	}

	existing, err := c.appointments.GetAppointmentByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
	switch {
	case err == nil:
		if existing.Active() {
			return existing, OutcomeAlreadyBooked, nil
		}
	case !errors.Is(err, persistence.ErrNotFound):
		return persistence.Appointment{}, "", fmt.Errorf("%w: idempotency lookup: %v", ErrStorage, err)
	}

	free, err := c.checker.WindowFree(ctx, req.TenantID, req.Slot.Start, req.Slot.End)
	if err != nil {
		return persistence.Appointment{}, "", fmt.Errorf("%w: conflict check: %v", ErrStorage, err)
	}
	if !free {
		return persistence.Appointment{}, "", ErrSlotNoLongerAvailable
	}

	now := c.now()
	appointment := persistence.Appointment{
		ID:                  c.idGenerator(),
		TenantID:            req.TenantID,
		ResourceID:          req.ResourceID,
		CounterpartyContact: req.Counterparty,
		ScheduledAt:         req.Slot.Start,
		DurationMinutes:     req.Slot.DurationMinutes,
		Status:              persistence.AppointmentStatusConfirmed,
		IdempotencyKey:      req.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	mirror := persistence.EventMirror{
		ID:            c.idGenerator(),
		TenantID:      req.TenantID,
		AppointmentID: &appointment.ID,
		Title:         eventTitle(req),
		Start:         req.Slot.Start,
		End:           req.Slot.End,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := c.appointments.CreateBooking(ctx, appointment, mirror); err != nil {
		switch {
		case errors.Is(err, persistence.ErrDuplicate):
			// The storage-layer uniqueness constraints are the authoritative
			// arbiter. An active appointment under the key means a concurrent
			// replay won; anything else, including a cancelled record left
			// under the key, means a concurrent booking took the window.
			if replay, lerr := c.appointments.GetAppointmentByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey); lerr == nil && replay.Active() {
				return replay, OutcomeAlreadyBooked, nil
			}
			return persistence.Appointment{}, "", ErrSlotNoLongerAvailable
		default:
			return persistence.Appointment{}, "", fmt.Errorf("%w: create booking: %v", ErrStorage, err)
		}
	}

	if c.pusher == nil {
		return appointment, OutcomeSyncDeferred, nil
	}

	outcome := c.pushExternal(ctx, &appointment, mirror)
	return appointment, outcome, nil
}

// pushExternal propagates the committed booking to the external calendar
// under a bounded wall-clock budget. The local booking is already the
// customer-facing commitment; failures here are recorded and deferred, never
// rolled back.
func (c *Committer) pushExternal(ctx context.Context, appointment *persistence.Appointment, mirror persistence.EventMirror) Outcome {
	pushCtx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	externalID, err := c.pusher.Create(pushCtx, appointment.TenantID, calendar.Event{
		Title: mirror.Title,
		Start: mirror.Start,
		End:   mirror.End,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "external calendar push deferred",
			"tenant_id", appointment.TenantID, "appointment_id", appointment.ID, "error", err)
		return OutcomeSyncDeferred
	}

	if err := c.appointments.SetExternalEventID(ctx, appointment.ID, externalID); err != nil {
		c.logger.ErrorContext(ctx, "failed to record external event id",
			"appointment_id", appointment.ID, "error", err)
		return OutcomeSyncDeferred
	}
	if err := c.events.SetExternalEventID(ctx, mirror.ID, externalID); err != nil {
		c.logger.ErrorContext(ctx, "failed to record external event id on mirror",
			"event_id", mirror.ID, "error", err)
	}
	appointment.ExternalEventID = &externalID

	return OutcomeConfirmed
}

func eventTitle(req Request) string {
	if req.Title != "" {
		return req.Title
	}
	return "Appointment with " + req.Counterparty
}
