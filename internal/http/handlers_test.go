package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/booking-engine/internal/availability"
	"github.com/example/booking-engine/internal/conversation"
	"github.com/example/booking-engine/internal/tenant"
	"github.com/example/booking-engine/internal/throttle"
)

type directoryStub struct {
	tenants map[string]tenant.Tenant
}

func (d *directoryStub) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return tenant.Tenant{}, errors.New("tenant not found")
	}
	return t, nil
}

type engineStub struct {
	reply      string
	err        error
	gotTrigger conversation.Trigger
	calls      int
}

func (e *engineStub) HandleTrigger(ctx context.Context, trigger conversation.Trigger) (string, error) {
	e.calls++
	e.gotTrigger = trigger
	if e.err != nil {
		return "", e.err
	}
	return e.reply, nil
}

type slotServiceStub struct {
	slots []availability.Slot
	err   error
}

func (s *slotServiceStub) SlotsForDate(ctx context.Context, tenantID string, date time.Time) ([]availability.Slot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.slots, nil
}

func authedTenant(t *testing.T) tenant.Tenant {
	t.Helper()
	hash, err := CreateAPIKeyHash("secret-key", testArgonParams)
	if err != nil {
		t.Fatalf("CreateAPIKeyHash: %v", err)
	}
	return tenant.Tenant{
		ID:              "tenant-1",
		Name:            "Main Street Garage",
		Timezone:        "America/New_York",
		APIKeyHash:      hash,
		DurationMinutes: 120,
	}
}

func TestRequireAPIKey(t *testing.T) {
	owner := authedTenant(t)
	directory := &directoryStub{tenants: map[string]tenant.Tenant{"tenant-1": owner}}

	var sawTenant tenant.Tenant
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawTenant, _ = TenantFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAPIKey(directory, nil)(next)

	do := func(tenantID, authHeader, apiKeyHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/availability", nil)
		if tenantID != "" {
			req.Header.Set("X-Tenant-ID", tenantID)
		}
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		if apiKeyHeader != "" {
			req.Header.Set("X-Api-Key", apiKeyHeader)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("bearer token authenticates", func(t *testing.T) {
		rec := do("tenant-1", "Bearer secret-key", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		if sawTenant.ID != "tenant-1" {
			t.Fatalf("handler saw tenant %q", sawTenant.ID)
		}
	})

	t.Run("api key header authenticates", func(t *testing.T) {
		if rec := do("tenant-1", "", "secret-key"); rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
	})

	t.Run("missing tenant header", func(t *testing.T) {
		if rec := do("", "Bearer secret-key", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if rec := do("tenant-1", "", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("unknown tenant", func(t *testing.T) {
		rec := do("tenant-9", "Bearer secret-key", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "AUTH_UNKNOWN_TENANT") {
			t.Fatalf("body = %s", rec.Body)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := do("tenant-1", "Bearer wrong-key", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "AUTH_INVALID_KEY") {
			t.Fatalf("body = %s", rec.Body)
		}
	})
}

func TestTriggerHandler(t *testing.T) {
	owner := authedTenant(t)
	fixedNow := func() time.Time {
		return time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	}

	do := func(engine *engineStub, body string, withTenant bool) *httptest.ResponseRecorder {
		handler := NewTriggerHandler(engine, fixedNow, nil)
		req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(body))
		if withTenant {
			req = req.WithContext(ContextWithTenant(req.Context(), owner))
		}
		rec := httptest.NewRecorder()
		handler.Handle(rec, req)
		return rec
	}

	t.Run("reply returned", func(t *testing.T) {
		engine := &engineStub{reply: "What day works best for you?"}
		rec := do(engine, `{"counterparty":"+15550001111","text":"hi","idempotency_token":"tok-1"}`, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}

		var resp triggerResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Reply != "What day works best for you?" {
			t.Fatalf("reply = %q", resp.Reply)
		}
		if engine.gotTrigger.TenantID != "tenant-1" || engine.gotTrigger.IdempotencyToken != "tok-1" {
			t.Fatalf("trigger = %+v", engine.gotTrigger)
		}
		if !engine.gotTrigger.ReceivedAt.Equal(fixedNow()) {
			t.Fatalf("received at = %v", engine.gotTrigger.ReceivedAt)
		}
	})

	t.Run("duplicate token acknowledged silently", func(t *testing.T) {
		engine := &engineStub{err: throttle.ErrDuplicateTrigger}
		rec := do(engine, `{"counterparty":"+15550001111","text":"hi"}`, true)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("body = %s, want empty", rec.Body)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		engine := &engineStub{err: throttle.ErrRateLimited}
		rec := do(engine, `{"counterparty":"+15550001111","text":"hi"}`, true)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "RATE_LIMITED") {
			t.Fatalf("body = %s", rec.Body)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		if rec := do(&engineStub{}, `{not json`, true); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("missing counterparty", func(t *testing.T) {
		engine := &engineStub{}
		rec := do(engine, `{"text":"hi"}`, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if engine.calls != 0 {
			t.Error("engine invoked for invalid request")
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		if rec := do(&engineStub{}, `{"counterparty":"+15550001111"}`, false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("engine failure", func(t *testing.T) {
		engine := &engineStub{err: errors.New("storage down")}
		if rec := do(engine, `{"counterparty":"+15550001111","text":"hi"}`, true); rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestAvailabilityHandler(t *testing.T) {
	owner := authedTenant(t)

	do := func(slots *slotServiceStub, query string, withTenant bool) *httptest.ResponseRecorder {
		handler := NewAvailabilityHandler(slots, nil)
		req := httptest.NewRequest(http.MethodGet, "/availability"+query, nil)
		if withTenant {
			req = req.WithContext(ContextWithTenant(req.Context(), owner))
		}
		rec := httptest.NewRecorder()
		handler.List(rec, req)
		return rec
	}

	t.Run("slots for the date", func(t *testing.T) {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			t.Fatalf("load location: %v", err)
		}
		start := time.Date(2026, time.June, 11, 10, 0, 0, 0, loc)
		slots := &slotServiceStub{slots: []availability.Slot{{
			Start:           start,
			End:             start.Add(2 * time.Hour),
			StartLocal:      start,
			DurationMinutes: 120,
			Label:           "Thu Jun 11 at 10:00 AM",
		}}}

		rec := do(slots, "?date=2026-06-11", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
		}
		var resp availabilityResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Date != "2026-06-11" || len(resp.Slots) != 1 {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("closed day is an empty answer", func(t *testing.T) {
		rec := do(&slotServiceStub{err: availability.ErrDayClosed}, "?date=2026-06-14", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp availabilityResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Reason != "day_closed" || len(resp.Slots) != 0 {
			t.Fatalf("response = %+v", resp)
		}
	})

	t.Run("duration too long", func(t *testing.T) {
		rec := do(&slotServiceStub{err: availability.ErrDurationTooLong}, "?date=2026-06-11", true)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "DURATION_TOO_LONG") {
			t.Fatalf("body = %s", rec.Body)
		}
	})

	t.Run("missing date parameter", func(t *testing.T) {
		if rec := do(&slotServiceStub{}, "", true); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("malformed date parameter", func(t *testing.T) {
		if rec := do(&slotServiceStub{}, "?date=June+11", true); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		if rec := do(&slotServiceStub{}, "?date=2026-06-11", false); rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}
