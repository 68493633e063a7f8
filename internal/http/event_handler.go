package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/reconcile"
)

type eventReconciler interface {
	View(ctx context.Context, tenantID string, from, to time.Time) ([]reconcile.MergedEvent, error)
	PushUpdate(ctx context.Context, event persistence.EventMirror) error
	PushDelete(ctx context.Context, event persistence.EventMirror) error
}

// EventHandler serves the reconciled calendar view and applies local edits,
// propagating them outward best-effort.
type EventHandler struct {
	events     persistence.EventRepository
	reconciler eventReconciler
	responder  responder
	now        func() time.Time
}

func NewEventHandler(events persistence.EventRepository, reconciler eventReconciler, now func() time.Time, logger *slog.Logger) *EventHandler {
	if now == nil {
		now = time.Now
	}
	return &EventHandler{events: events, reconciler: reconciler, responder: newResponder(logger), now: now}
}

type mergedEventResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Origin      string    `json:"origin"`
	ExternalID  string    `json:"external_id,omitempty"`
}

// List returns the merged local+external event view for the requested window.
// The window defaults to the next seven days.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	t, ok := TenantFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingTenantID)
		return
	}

	from, to, err := h.window(r)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	merged, err := h.reconciler.View(r.Context(), t.ID, from, to)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	payload := make([]mergedEventResponse, 0, len(merged))
	for _, event := range merged {
		payload = append(payload, mergedEventResponse{
			ID:          event.ID,
			Title:       event.Title,
			Description: event.Description,
			Start:       event.Start,
			End:         event.End,
			Origin:      string(event.Origin),
			ExternalID:  event.ExternalID,
		})
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, payload)
}

// Feed renders the merged view as an iCalendar subscription feed.
func (h *EventHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	t, ok := TenantFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingTenantID)
		return
	}

	from, to, err := h.window(r)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	merged, err := h.reconciler.View(r.Context(), t.ID, from, to)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := reconcile.WriteICS(w, merged, h.now()); err != nil {
		h.responder.loggerFor(r.Context()).ErrorContext(r.Context(), "failed to render ics feed", "error", err)
	}
}

type eventUpdateRequest struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Update rewrites a local event and propagates the edit outward. The local
// write is authoritative; a failed outward push is logged and left for the
// next reconcile pass.
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	event, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}

	var req eventUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if strings.TrimSpace(req.Title) == "" || req.Start.IsZero() || req.End.IsZero() || !req.Start.Before(req.End) {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	event.Title = req.Title
	event.Start = req.Start
	event.End = req.End

	if err := h.events.UpdateEvent(r.Context(), event); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if err := h.reconciler.PushUpdate(r.Context(), event); err != nil {
		h.responder.loggerFor(r.Context()).WarnContext(r.Context(), "outward push failed after local update",
			"event_id", event.ID, "error", err)
	}

	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Delete removes a local event after clearing its external counterpart. A
// remote 404 counts as success; any other push failure blocks the local
// delete so the two sides cannot silently diverge.
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	event, ok := h.ownedEvent(w, r)
	if !ok {
		return
	}

	if err := h.reconciler.PushDelete(r.Context(), event); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if err := h.events.DeleteEvent(r.Context(), event.ID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ownedEvent loads the path event and verifies it belongs to the
// authenticated tenant. Foreign events are reported as not found.
func (h *EventHandler) ownedEvent(w http.ResponseWriter, r *http.Request) (persistence.EventMirror, bool) {
	if h == nil || h.events == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return persistence.EventMirror{}, false
	}

	t, ok := TenantFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingTenantID)
		return persistence.EventMirror{}, false
	}

	eventID, ok := EventIDFromContext(r.Context())
	if !ok || strings.TrimSpace(eventID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidEventID)
		return persistence.EventMirror{}, false
	}

	event, err := h.events.GetEvent(r.Context(), eventID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return persistence.EventMirror{}, false
	}
	if event.TenantID != t.ID {
		h.responder.writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{Message: "resource not found"})
		return persistence.EventMirror{}, false
	}

	return event, true
}

func (h *EventHandler) window(r *http.Request) (time.Time, time.Time, error) {
	now := h.now()
	from := now
	to := now.AddDate(0, 0, 7)

	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		to = parsed
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must precede to")
	}

	return from, to, nil
}
