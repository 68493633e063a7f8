// Package reconcile merges the tenant's locally owned calendar records with
// externally fetched events into one deduplicated view, and propagates local
// mutations back out to the external calendar.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/booking-engine/internal/calendar"
	"github.com/example/booking-engine/internal/persistence"
)

// Origin tags where a merged entry came from.
type Origin string

const (
	// OriginLocal marks entries backed by a local record; local fields win.
	OriginLocal Origin = "local"
	// OriginExternal marks external events with no local counterpart.
	OriginExternal Origin = "external"
)

// MergedEvent is one entry of the deduplicated calendar view.
type MergedEvent struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Origin      Origin
	ExternalID  string
}

// ExternalSync pushes local mutations outward with the shared
// refresh-and-retry policy.
type ExternalSync interface {
	Create(ctx context.Context, tenantID string, event calendar.Event) (string, error)
	Patch(ctx context.Context, tenantID, eventID string, event calendar.Event) error
	Delete(ctx context.Context, tenantID, eventID string) error
}

// Reconciler keeps the local and external calendar views consistent.
type Reconciler struct {
	events       persistence.EventRepository
	appointments persistence.AppointmentRepository
	client       calendar.Client
	sync         ExternalSync
	logger       *slog.Logger
}

// NewReconciler wires the reconciliation dependencies. client and sync may be
// nil for tenants with no external calendar; reconciliation then degrades to
// the local view.
func NewReconciler(events persistence.EventRepository, appointments persistence.AppointmentRepository, client calendar.Client, sync ExternalSync, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		events:       events,
		appointments: appointments,
		client:       client,
		sync:         sync,
		logger:       logger,
	}
}

// Merge deduplicates local mirrors against external events.
//
// Precedence: an exact external-id match always drops the external duplicate;
// a title plus start-to-the-minute match catches legacy records never linked
// to an external id. The local record is the source of truth for business
// data, so its fields win either way. Unmatched external events pass through
// tagged with their origin.
func Merge(local []persistence.EventMirror, external []calendar.Event) []MergedEvent {
	consumed := make(map[string]bool, len(external))
	byID := make(map[string]calendar.Event, len(external))
	byHeuristic := make(map[string]calendar.Event, len(external))
	for _, event := range external {
		byID[event.ID] = event
		byHeuristic[heuristicKey(event.Title, event.Start)] = event
	}

	merged := make([]MergedEvent, 0, len(local)+len(external))

	for _, mirror := range local {
		entry := MergedEvent{
			ID:     mirror.ID,
			Title:  mirror.Title,
			Start:  mirror.Start,
			End:    mirror.End,
			Origin: OriginLocal,
		}

		if mirror.ExternalEventID != nil {
			if event, ok := byID[*mirror.ExternalEventID]; ok {
				consumed[event.ID] = true
				entry.ExternalID = event.ID
				// The external record only contributes what the local one lacks.
				entry.Description = event.Description
			} else {
				entry.ExternalID = *mirror.ExternalEventID
			}
		} else if event, ok := byHeuristic[heuristicKey(mirror.Title, mirror.Start)]; ok {
			consumed[event.ID] = true
			entry.ExternalID = event.ID
			entry.Description = event.Description
		}

		merged = append(merged, entry)
	}

	for _, event := range external {
		if consumed[event.ID] {
			continue
		}
		merged = append(merged, MergedEvent{
			ID:          event.ID,
			Title:       event.Title,
			Description: event.Description,
			Start:       event.Start,
			End:         event.End,
			Origin:      OriginExternal,
			ExternalID:  event.ID,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Start.Equal(merged[j].Start) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].Start.Before(merged[j].Start)
	})

	return merged
}

// View loads both sides for the window and returns the merged list. External
// fetch failures degrade to the local view.
func (r *Reconciler) View(ctx context.Context, tenantID string, from, to time.Time) ([]MergedEvent, error) {
	local, err := r.events.ListEvents(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list local events: %w", err)
	}

	var external []calendar.Event
	if r.client != nil {
		external, err = r.client.ListEvents(ctx, tenantID, from, to)
		if err != nil {
			r.logger.WarnContext(ctx, "external event fetch failed, serving local view",
				"tenant_id", tenantID, "error", err)
			external = nil
		}
	}

	return Merge(local, external), nil
}

// PushUpdate propagates a local edit to the external calendar. Events never
// linked externally are skipped.
func (r *Reconciler) PushUpdate(ctx context.Context, event persistence.EventMirror) error {
	if r.sync == nil || event.ExternalEventID == nil {
		return nil
	}

	err := r.sync.Patch(ctx, event.TenantID, *event.ExternalEventID, calendar.Event{
		Title: event.Title,
		Start: event.Start,
		End:   event.End,
	})
	if err != nil {
		return fmt.Errorf("push update for event %s: %w", event.ID, err)
	}
	return nil
}

// PushDelete removes the external counterpart of a deleted local event. A
// remote 404 means the event is already absent: that is success, and the
// stored external id is cleared rather than retried.
func (r *Reconciler) PushDelete(ctx context.Context, event persistence.EventMirror) error {
	if r.sync == nil || event.ExternalEventID == nil {
		return nil
	}

	err := r.sync.Delete(ctx, event.TenantID, *event.ExternalEventID)
	switch {
	case err == nil, errors.Is(err, calendar.ErrNotFound):
		if cerr := r.events.ClearExternalEventID(ctx, event.ID); cerr != nil && !errors.Is(cerr, persistence.ErrNotFound) {
			return fmt.Errorf("clear external id for event %s: %w", event.ID, cerr)
		}
		return nil
	default:
		return fmt.Errorf("push delete for event %s: %w", event.ID, err)
	}
}

// Backfill pushes every local event whose external id is still unset,
// healing bookings that committed during an external outage. It returns the
// number of events synced.
func (r *Reconciler) Backfill(ctx context.Context, tenantID string) (int, error) {
	if r.sync == nil {
		return 0, nil
	}

	pending, err := r.events.ListUnsyncedEvents(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list unsynced events: %w", err)
	}

	synced := 0
	for _, event := range pending {
		externalID, err := r.sync.Create(ctx, tenantID, calendar.Event{
			Title: event.Title,
			Start: event.Start,
			End:   event.End,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "backfill push failed",
				"tenant_id", tenantID, "event_id", event.ID, "error", err)
			continue
		}

		if err := r.events.SetExternalEventID(ctx, event.ID, externalID); err != nil {
			return synced, fmt.Errorf("record external id for event %s: %w", event.ID, err)
		}
		if event.AppointmentID != nil {
			if err := r.appointments.SetExternalEventID(ctx, *event.AppointmentID, externalID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
				return synced, fmt.Errorf("record external id for appointment %s: %w", *event.AppointmentID, err)
			}
		}
		synced++
	}

	return synced, nil
}

func heuristicKey(title string, start time.Time) string {
	return title + "|" + start.UTC().Truncate(time.Minute).Format(time.RFC3339)
}
