package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/booking-engine/internal/availability"
	"github.com/example/booking-engine/internal/booking"
	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/tenant"
	"github.com/example/booking-engine/internal/timeparse"
)

// Availability is the slot computation surface the machine consumes.
type Availability interface {
	SlotsForDate(ctx context.Context, tenantID string, date time.Time) ([]availability.Slot, error)
	WindowFree(ctx context.Context, tenantID string, start, end time.Time) (bool, error)
}

// Committer executes the terminal booking transition.
type Committer interface {
	Commit(ctx context.Context, req booking.Request) (persistence.Appointment, booking.Outcome, error)
}

// Machine interprets one utterance against the current dialogue state and
// produces the outbound reply plus the next state. Parsing and availability
// failures never escalate past this boundary: every path yields a reply
// string and a state.
type Machine struct {
	slots         Availability
	committer     Committer
	tenants       tenant.Directory
	slotCap       int
	lookaheadDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewMachine wires the state machine. slotCap bounds how many candidates are
// presented; lookaheadDays bounds the generic availability broadcast.
func NewMachine(slots Availability, committer Committer, tenants tenant.Directory, slotCap, lookaheadDays int, now func() time.Time, logger *slog.Logger) *Machine {
	if slotCap <= 0 {
		slotCap = 6
	}
	if lookaheadDays <= 0 {
		lookaheadDays = 7
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		slots:         slots,
		committer:     committer,
		tenants:       tenants,
		slotCap:       slotCap,
		lookaheadDays: lookaheadDays,
		now:           now,
		logger:        logger,
	}
}

// Step advances the conversation by one trigger. The conversation is mutated
// in place; the caller persists it before delivering the reply.
func (m *Machine) Step(ctx context.Context, conv *Conversation, text string) string {
	now := m.now()
	conv.touch(now)

	owner, err := m.tenants.GetTenant(ctx, conv.TenantID)
	if err != nil {
		m.logger.ErrorContext(ctx, "tenant lookup failed", "tenant_id", conv.TenantID, "error", err)
		conv.transition(StateError)
		return replyInternalError
	}
	loc, err := owner.Location()
	if err != nil {
		m.logger.ErrorContext(ctx, "tenant timezone invalid", "tenant_id", conv.TenantID, "error", err)
		conv.transition(StateError)
		return replyInternalError
	}

	switch conv.State {
	case StateIdle:
		return m.stepIdle(ctx, conv, owner, loc, text, now)
	case StateAwaitingDate:
		return m.stepAwaitingDate(ctx, conv, loc, text, now)
	case StateAwaitingTime:
		return m.stepAwaitingTime(conv, text)
	case StateAwaitingConfirm:
		return m.stepAwaitingConfirm(ctx, conv, text)
	case StateConfirmed:
		return m.stepConfirmed(conv)
	case StateError:
		// Self-healing: the error state resets and handles the trigger fresh.
		conv.transition(StateIdle)
		return m.stepIdle(ctx, conv, owner, loc, text, now)
	default:
		conv.transition(StateIdle)
		return replyAskDate
	}
}

func (m *Machine) stepIdle(ctx context.Context, conv *Conversation, owner tenant.Tenant, loc *time.Location, text string, now time.Time) string {
	at, hasDate, hasTime := timeparse.ParseDateTime(text, now, loc)

	switch {
	case hasDate && hasTime:
		return m.tryExactSlot(ctx, conv, owner, loc, at, now)
	case hasDate:
		return m.offerSlotsForDate(ctx, conv, at, now)
	case asksAvailability(text):
		return m.broadcastAvailability(ctx, conv, loc, now)
	default:
		conv.transition(StateAwaitingDate)
		return replyAskDate
	}
}

// tryExactSlot handles an utterance carrying a full date+time selection: it
// checks that exact window and either jumps straight to confirmation or
// falls back to alternatives for the same day. The requested start must be
// in the future and the window must fit inside the tenant's business hours
// before any conflict check runs.
func (m *Machine) tryExactSlot(ctx context.Context, conv *Conversation, owner tenant.Tenant, loc *time.Location, at time.Time, now time.Time) string {
	if !at.After(now) {
		reply := m.offerSlotsForDate(ctx, conv, at, now)
		if conv.State == StateAwaitingTime {
			return replyExactPast + " " + reply
		}
		return reply
	}

	startLocal := at.In(loc)
	hours, open := owner.Hours.ForWeekday(startLocal.Weekday())
	startMinute := startLocal.Hour()*60 + startLocal.Minute()
	if !open || startMinute < hours.OpenMinute || startMinute+owner.DurationMinutes > hours.CloseMinute {
		// A closed day gets its own phrasing from the day offer path.
		reply := m.offerSlotsForDate(ctx, conv, at, now)
		if conv.State == StateAwaitingTime {
			return replyExactOutsideHours + " " + reply
		}
		return reply
	}

	duration := time.Duration(owner.DurationMinutes) * time.Minute
	free, err := m.slots.WindowFree(ctx, conv.TenantID, at, at.Add(duration))
	if err != nil {
		m.logger.ErrorContext(ctx, "window check failed", "tenant_id", conv.TenantID, "error", err)
		conv.transition(StateError)
		return replyInternalError
	}

	if free {
		slot := availability.Slot{
			StartLocal:      at,
			Start:           at,
			End:             at.Add(duration),
			DurationMinutes: owner.DurationMinutes,
			Label:           at.Format("Mon Jan 2 at 3:04 PM"),
		}
		conv.SelectedSlot = &slot
		conv.transition(StateAwaitingConfirm)
		return fmt.Sprintf(replyConfirmFmt, slot.Label)
	}

	reply := m.offerSlotsForDate(ctx, conv, at, now)
	if conv.State == StateAwaitingTime {
		return replyExactTaken + " " + reply
	}
	return reply
}

func (m *Machine) stepAwaitingDate(ctx context.Context, conv *Conversation, loc *time.Location, text string, now time.Time) string {
	date, err := timeparse.ParseDate(text, now, loc)
	if err != nil {
		return replyDateNotUnderstood
	}
	return m.offerSlotsForDate(ctx, conv, date, now)
}

// offerSlotsForDate computes the day's slots and presents up to the cap,
// phrasing closed days, too-long services and fully booked days distinctly.
func (m *Machine) offerSlotsForDate(ctx context.Context, conv *Conversation, date time.Time, now time.Time) string {
	slots, err := m.slots.SlotsForDate(ctx, conv.TenantID, date)
	switch {
	case errors.Is(err, availability.ErrDayClosed):
		conv.transition(StateAwaitingDate)
		return fmt.Sprintf(replyDayClosedFmt, date.Format("Monday Jan 2"))
	case errors.Is(err, availability.ErrDurationTooLong):
		conv.transition(StateAwaitingDate)
		return replyServiceTooLong
	case err != nil:
		m.logger.ErrorContext(ctx, "slot computation failed", "tenant_id", conv.TenantID, "error", err)
		conv.transition(StateError)
		return replyInternalError
	}

	// Past starts can slip in when the requested date is today.
	slots = dropPastSlots(slots, now)

	if len(slots) == 0 {
		conv.transition(StateAwaitingDate)
		return fmt.Sprintf(replyDayFullFmt, date.Format("Monday Jan 2"))
	}

	return m.presentSlots(conv, slots, date)
}

// broadcastAvailability answers a generic availability ask by walking the
// lookahead window until the candidate cap fills.
func (m *Machine) broadcastAvailability(ctx context.Context, conv *Conversation, loc *time.Location, now time.Time) string {
	var collected []availability.Slot
	for offset := 0; offset < m.lookaheadDays && len(collected) < m.slotCap; offset++ {
		date := now.In(loc).AddDate(0, 0, offset)
		slots, err := m.slots.SlotsForDate(ctx, conv.TenantID, date)
		if err != nil {
			// Closed or too-short days contribute nothing to the broadcast.
			if errors.Is(err, availability.ErrDayClosed) || errors.Is(err, availability.ErrDurationTooLong) {
				continue
			}
			m.logger.ErrorContext(ctx, "broadcast slot computation failed", "tenant_id", conv.TenantID, "error", err)
			conv.transition(StateError)
			return replyInternalError
		}
		collected = append(collected, dropPastSlots(slots, now)...)
	}

	if len(collected) == 0 {
		conv.transition(StateAwaitingDate)
		return fmt.Sprintf(replyNoAvailabilityFmt, m.lookaheadDays)
	}

	broadcastAt := m.now()
	conv.LastBroadcastAt = &broadcastAt
	return m.presentSlots(conv, collected, time.Time{})
}

func (m *Machine) presentSlots(conv *Conversation, slots []availability.Slot, date time.Time) string {
	if len(slots) > m.slotCap {
		slots = slots[:m.slotCap]
	}
	conv.CandidateSlots = slots
	if !date.IsZero() {
		selected := date
		conv.SelectedDate = &selected
	}
	conv.transition(StateAwaitingTime)

	var b strings.Builder
	b.WriteString(replyOfferHeader)
	for i, slot := range slots {
		fmt.Fprintf(&b, "\n%d) %s", i+1, slot.Label)
	}
	b.WriteString("\n")
	b.WriteString(replyOfferFooter)
	return b.String()
}

func (m *Machine) stepAwaitingTime(conv *Conversation, text string) string {
	slot, ok := matchCandidate(conv.CandidateSlots, text)
	if !ok {
		return replyTimeNotUnderstood
	}
	conv.SelectedSlot = &slot
	conv.transition(StateAwaitingConfirm)
	return fmt.Sprintf(replyConfirmFmt, slot.Label)
}

func (m *Machine) stepAwaitingConfirm(ctx context.Context, conv *Conversation, text string) string {
	switch {
	case isAffirmative(text):
		return m.commitSelection(ctx, conv)
	case isRejection(text):
		if len(conv.CandidateSlots) > 0 {
			return replyReselect + " " + m.presentSlots(conv, conv.CandidateSlots, timeOrZero(conv.SelectedDate))
		}
		conv.transition(StateAwaitingDate)
		return replyAskDate
	default:
		if conv.SelectedSlot != nil {
			return fmt.Sprintf(replyConfirmAgainFmt, conv.SelectedSlot.Label)
		}
		conv.transition(StateAwaitingDate)
		return replyAskDate
	}
}

func (m *Machine) commitSelection(ctx context.Context, conv *Conversation) string {
	if conv.SelectedSlot == nil {
		conv.transition(StateAwaitingDate)
		return replyAskDate
	}
	slot := *conv.SelectedSlot

	appointment, outcome, err := m.committer.Commit(ctx, booking.Request{
		IdempotencyKey: idempotencyKey(conv.TenantID, conv.Counterparty, slot.Start),
		TenantID:       conv.TenantID,
		Counterparty:   conv.Counterparty,
		Slot:           slot,
	})
	switch {
	case err == nil:
		m.logger.InfoContext(ctx, "booking committed",
			"tenant_id", conv.TenantID, "appointment_id", appointment.ID, "outcome", string(outcome))
		conv.transition(StateConfirmed)
		conv.SelectedSlot = &slot
		return fmt.Sprintf(replyBookedFmt, slot.Label)
	case errors.Is(err, booking.ErrSlotNoLongerAvailable):
		return replySlotLost + " " + m.offerSlotsForDate(ctx, conv, slot.StartLocal, m.now())
	default:
		m.logger.ErrorContext(ctx, "booking commit failed",
			"tenant_id", conv.TenantID, "error", err)
		conv.transition(StateError)
		return replyCommitFailed
	}
}

func (m *Machine) stepConfirmed(conv *Conversation) string {
	// Repeated triggers after confirmation never re-run side effects.
	if conv.SelectedSlot != nil {
		return fmt.Sprintf(replyAlreadyBookedFmt, conv.SelectedSlot.Label)
	}
	return replyAlreadyBookedGeneric
}

// matchCandidate resolves the utterance against presented slots, first by
// ordinal position, then by time phrase, then by the slot's clock time
// quoted somewhere in the utterance.
func matchCandidate(candidates []availability.Slot, text string) (availability.Slot, bool) {
	if len(candidates) == 0 {
		return availability.Slot{}, false
	}
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.ToLower(text)), "option"))
	trimmed = strings.TrimPrefix(trimmed, "#")

	if ordinal, err := strconv.Atoi(strings.TrimSpace(trimmed)); err == nil {
		if ordinal >= 1 && ordinal <= len(candidates) {
			return candidates[ordinal-1], true
		}
		return availability.Slot{}, false
	}

	if wall, err := timeparse.ParseTime(text); err == nil {
		for _, slot := range candidates {
			if slot.StartLocal.Hour() == wall.Hour && slot.StartLocal.Minute() == wall.Minute {
				return slot, true
			}
		}
	}

	lowered := strings.ToLower(text)
	for _, slot := range candidates {
		clock := strings.ToLower(slot.StartLocal.Format("3:04 PM"))
		if strings.Contains(lowered, clock) || strings.Contains(lowered, slot.StartLocal.Format("3:04")) {
			return slot, true
		}
	}

	return availability.Slot{}, false
}

var affirmatives = []string{"yes", "yep", "yeah", "yup", "confirm", "confirmed", "sure", "ok", "okay", "sounds good", "that works", "book it", "y"}

var rejections = []string{"no", "nope", "nah", "cancel", "different", "another", "other time", "change", "not that"}

func isAffirmative(text string) bool {
	return matchesAny(text, affirmatives)
}

func isRejection(text string) bool {
	return matchesAny(text, rejections)
}

func matchesAny(text string, phrases []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.Trim(normalized, ".!?")
	for _, phrase := range phrases {
		if normalized == phrase || strings.HasPrefix(normalized, phrase+" ") || strings.HasPrefix(normalized, phrase+",") {
			return true
		}
	}
	return false
}

var availabilityWords = []string{"available", "availability", "opening", "openings", "appointment", "book", "schedule", "slots", "times"}

func asksAvailability(text string) bool {
	normalized := strings.ToLower(text)
	for _, word := range availabilityWords {
		if strings.Contains(normalized, word) {
			return true
		}
	}
	return false
}

func dropPastSlots(slots []availability.Slot, now time.Time) []availability.Slot {
	kept := slots[:0]
	for _, slot := range slots {
		if slot.Start.After(now) {
			kept = append(kept, slot)
		}
	}
	return kept
}

// idempotencyKey derives a deterministic identifier for one logical booking
// intent, so replayed confirmations commit at most once.
func idempotencyKey(tenantID, counterparty string, start time.Time) string {
	sum := sha256.Sum256([]byte(tenantID + "|" + counterparty + "|" + strconv.FormatInt(start.Unix(), 10)))
	return hex.EncodeToString(sum[:16])
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
