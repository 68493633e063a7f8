package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/booking-engine/internal/availability"
)

type slotService interface {
	SlotsForDate(ctx context.Context, tenantID string, date time.Time) ([]availability.Slot, error)
}

// AvailabilityHandler serves the offerable slots for a civil date.
type AvailabilityHandler struct {
	slots     slotService
	responder responder
}

func NewAvailabilityHandler(slots slotService, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{slots: slots, responder: newResponder(logger)}
}

type availabilityResponse struct {
	Date   string              `json:"date"`
	Slots  []availability.Slot `json:"slots"`
	Reason string              `json:"reason,omitempty"`
}

// List computes slots for the ?date=YYYY-MM-DD query in the tenant timezone.
// A closed day is a normal empty answer, not an error.
func (h *AvailabilityHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.slots == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	t, ok := TenantFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingTenantID)
		return
	}

	loc, err := t.Location()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("date query parameter is required"))
		return
	}
	date, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errors.New("date must be formatted YYYY-MM-DD"))
		return
	}

	slots, err := h.slots.SlotsForDate(r.Context(), t.ID, date)
	if err != nil {
		switch {
		case errors.Is(err, availability.ErrDayClosed):
			h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilityResponse{
				Date: raw, Slots: []availability.Slot{}, Reason: "day_closed",
			})
		case errors.Is(err, availability.ErrDurationTooLong):
			h.responder.writeJSON(r.Context(), w, http.StatusUnprocessableEntity, errorResponse{
				ErrorCode: "DURATION_TOO_LONG",
				Message:   "the configured service duration does not fit inside a single business day",
			})
		default:
			h.responder.handleServiceError(r.Context(), w, err)
		}
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, availabilityResponse{Date: raw, Slots: slots})
}
