package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/booking-engine/internal/conversation"
	"github.com/example/booking-engine/internal/throttle"
)

type triggerEngine interface {
	HandleTrigger(ctx context.Context, trigger conversation.Trigger) (string, error)
}

// TriggerHandler accepts inbound webhook triggers and returns the outbound
// reply the conversation engine produced.
type TriggerHandler struct {
	engine    triggerEngine
	responder responder
	now       func() time.Time
}

func NewTriggerHandler(engine triggerEngine, now func() time.Time, logger *slog.Logger) *TriggerHandler {
	if now == nil {
		now = time.Now
	}
	return &TriggerHandler{engine: engine, responder: newResponder(logger), now: now}
}

type triggerRequest struct {
	Counterparty     string `json:"counterparty"`
	Text             string `json:"text"`
	IdempotencyToken string `json:"idempotency_token"`
}

type triggerResponse struct {
	Reply string `json:"reply"`
}

// Handle processes one trigger. Duplicate tokens are acknowledged with 204
// and no reply body; rate-limited conversations get 429. Either way nothing
// is said to the counterparty.
func (h *TriggerHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.engine == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	t, ok := TenantFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingTenantID)
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if strings.TrimSpace(req.Counterparty) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	reply, err := h.engine.HandleTrigger(r.Context(), conversation.Trigger{
		TenantID:         t.ID,
		Counterparty:     strings.TrimSpace(req.Counterparty),
		Text:             req.Text,
		IdempotencyToken: strings.TrimSpace(req.IdempotencyToken),
		ReceivedAt:       h.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, throttle.ErrDuplicateTrigger):
			h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
		case errors.Is(err, throttle.ErrRateLimited):
			h.responder.writeJSON(r.Context(), w, http.StatusTooManyRequests, errorResponse{
				ErrorCode: "RATE_LIMITED",
				Message:   "too many replies for this conversation, try again later",
			})
		default:
			h.responder.handleServiceError(r.Context(), w, err)
		}
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, triggerResponse{Reply: reply})
}
