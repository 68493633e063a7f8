package calendar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedClient struct {
	createErrs []error
	calls      int
}

func (c *scriptedClient) ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]Event, error) {
	return nil, nil
}

func (c *scriptedClient) CreateEvent(ctx context.Context, tenantID string, event Event) (string, error) {
	call := c.calls
	c.calls++
	if call < len(c.createErrs) && c.createErrs[call] != nil {
		return "", c.createErrs[call]
	}
	return "ext-1", nil
}

func (c *scriptedClient) PatchEvent(ctx context.Context, tenantID, eventID string, event Event) error {
	call := c.calls
	c.calls++
	if call < len(c.createErrs) && c.createErrs[call] != nil {
		return c.createErrs[call]
	}
	return nil
}

func (c *scriptedClient) DeleteEvent(ctx context.Context, tenantID, eventID string) error {
	call := c.calls
	c.calls++
	if call < len(c.createErrs) && c.createErrs[call] != nil {
		return c.createErrs[call]
	}
	return nil
}

type refresherStub struct {
	calls int
	err   error
}

func (r *refresherStub) Refresh(ctx context.Context, tenantID string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "fresh-token", nil
}

func newTestPusher(client Client, refresher TokenRefresher) *Pusher {
	pusher := NewPusher(client, refresher, RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	}, nil)
	pusher.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return pusher
}

func TestPusherCreate(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		client := &scriptedClient{}
		pusher := newTestPusher(client, &refresherStub{})

		id, err := pusher.Create(context.Background(), "tenant-1", Event{Title: "A"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id != "ext-1" || client.calls != 1 {
			t.Fatalf("id = %q calls = %d", id, client.calls)
		}
	})

	t.Run("transient failures retry up to the budget", func(t *testing.T) {
		client := &scriptedClient{createErrs: []error{
			fmt.Errorf("%w: 503", ErrUnavailable),
			fmt.Errorf("%w: 503", ErrUnavailable),
		}}
		pusher := newTestPusher(client, &refresherStub{})

		id, err := pusher.Create(context.Background(), "tenant-1", Event{Title: "A"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id != "ext-1" || client.calls != 3 {
			t.Fatalf("id = %q calls = %d", id, client.calls)
		}
	})

	t.Run("budget exhausted returns the transient error", func(t *testing.T) {
		unavailable := fmt.Errorf("%w: 503", ErrUnavailable)
		client := &scriptedClient{createErrs: []error{unavailable, unavailable, unavailable}}
		pusher := newTestPusher(client, &refresherStub{})

		if _, err := pusher.Create(context.Background(), "tenant-1", Event{}); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if client.calls != 3 {
			t.Fatalf("calls = %d, want 3", client.calls)
		}
	})

	t.Run("authorization failure refreshes once and retries", func(t *testing.T) {
		client := &scriptedClient{createErrs: []error{fmt.Errorf("%w: 401", ErrUnauthorized)}}
		refresher := &refresherStub{}
		pusher := newTestPusher(client, refresher)

		id, err := pusher.Create(context.Background(), "tenant-1", Event{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id != "ext-1" {
			t.Fatalf("id = %q", id)
		}
		if refresher.calls != 1 {
			t.Fatalf("refresher calls = %d, want 1", refresher.calls)
		}
	})

	t.Run("second authorization failure is terminal", func(t *testing.T) {
		unauthorized := fmt.Errorf("%w: 401", ErrUnauthorized)
		client := &scriptedClient{createErrs: []error{unauthorized, unauthorized}}
		refresher := &refresherStub{}
		pusher := newTestPusher(client, refresher)

		if _, err := pusher.Create(context.Background(), "tenant-1", Event{}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if refresher.calls != 1 {
			t.Fatalf("refresher calls = %d, want 1", refresher.calls)
		}
	})

	t.Run("refresh failure is terminal", func(t *testing.T) {
		client := &scriptedClient{createErrs: []error{fmt.Errorf("%w: 401", ErrUnauthorized)}}
		refresher := &refresherStub{err: ErrNotConnected}
		pusher := newTestPusher(client, refresher)

		if _, err := pusher.Create(context.Background(), "tenant-1", Event{}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("permanent errors do not retry", func(t *testing.T) {
		client := &scriptedClient{createErrs: []error{fmt.Errorf("%w: gone", ErrNotFound)}}
		pusher := newTestPusher(client, &refresherStub{})

		if _, err := pusher.Create(context.Background(), "tenant-1", Event{}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if client.calls != 1 {
			t.Fatalf("calls = %d, want 1", client.calls)
		}
	})
}

func TestPusherDeletePassesNotFoundThrough(t *testing.T) {
	client := &scriptedClient{createErrs: []error{fmt.Errorf("%w: gone", ErrNotFound)}}
	pusher := newTestPusher(client, &refresherStub{})

	if err := pusher.Delete(context.Background(), "tenant-1", "ext-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound to pass through, got %v", err)
	}
}
