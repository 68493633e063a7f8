package calendar

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig bounds the retry loop for transient external failures.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig matches the commit path's bounded budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// TokenRefresher is implemented by Refresher.
type TokenRefresher interface {
	Refresh(ctx context.Context, tenantID string) (string, error)
}

// Pusher applies the shared outbound policy to every external mutation: on an
// authorization failure refresh the tenant's credentials once and retry; on a
// transient failure retry with exponential backoff up to the configured
// budget. Both the commit path and reconciliation push through here.
type Pusher struct {
	client    Client
	refresher TokenRefresher
	retry     RetryConfig
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

// NewPusher wires the outbound policy around a client.
func NewPusher(client Client, refresher TokenRefresher, retry RetryConfig, logger *slog.Logger) *Pusher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		client:    client,
		refresher: refresher,
		retry:     retry,
		sleep:     sleepContext,
		logger:    logger,
	}
}

// Create pushes a new event, returning the external id.
func (p *Pusher) Create(ctx context.Context, tenantID string, event Event) (string, error) {
	var externalID string
	err := p.execute(ctx, tenantID, func(ctx context.Context) error {
		id, err := p.client.CreateEvent(ctx, tenantID, event)
		if err == nil {
			externalID = id
		}
		return err
	})
	return externalID, err
}

// Patch applies fields to an existing external event.
func (p *Pusher) Patch(ctx context.Context, tenantID, eventID string, event Event) error {
	return p.execute(ctx, tenantID, func(ctx context.Context) error {
		return p.client.PatchEvent(ctx, tenantID, eventID, event)
	})
}

// Delete removes an external event. ErrNotFound passes through so callers can
// treat an already-absent event as success.
func (p *Pusher) Delete(ctx context.Context, tenantID, eventID string) error {
	return p.execute(ctx, tenantID, func(ctx context.Context) error {
		return p.client.DeleteEvent(ctx, tenantID, eventID)
	})
}

func (p *Pusher) execute(ctx context.Context, tenantID string, fn func(context.Context) error) error {
	var lastErr error
	delay := p.retry.InitialDelay
	refreshed := false

	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * p.retry.BackoffFactor)
			if delay > p.retry.MaxDelay {
				delay = p.retry.MaxDelay
			}
		}

		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrUnauthorized) && p.refresher != nil && !refreshed:
			refreshed = true
			if _, rerr := p.refresher.Refresh(ctx, tenantID); rerr != nil {
				return rerr
			}
			// Retry immediately with the refreshed token; this does not
			// consume a backoff attempt.
			if err := fn(ctx); err == nil {
				return nil
			} else if !errors.Is(err, ErrUnavailable) {
				return err
			} else {
				lastErr = err
			}
		case errors.Is(err, ErrUnavailable):
			lastErr = err
			p.logger.WarnContext(ctx, "external calendar call failed, will retry",
				"tenant_id", tenantID, "attempt", attempt, "error", err)
		default:
			return err
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
