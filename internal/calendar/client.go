// Package calendar abstracts the tenant's external third-party calendar.
// Availability, credentials and responsiveness of the remote side are not
// trusted; callers treat every operation as fallible and time-bounded.
package calendar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized indicates the access token was rejected and a refresh
	// should be attempted.
	ErrUnauthorized = errors.New("calendar: unauthorized")
	// ErrNotFound indicates the remote event does not exist.
	ErrNotFound = errors.New("calendar: event not found")
	// ErrUnavailable indicates a transient remote failure worth retrying.
	ErrUnavailable = errors.New("calendar: service unavailable")
	// ErrNotConnected indicates the tenant has no usable calendar link.
	ErrNotConnected = errors.New("calendar: tenant not connected")
)

// Event is the external calendar's view of an event.
type Event struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// Client is the narrow surface the engine needs from the external calendar.
type Client interface {
	ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, tenantID string, event Event) (string, error)
	PatchEvent(ctx context.Context, tenantID, eventID string, event Event) error
	DeleteEvent(ctx context.Context, tenantID, eventID string) error
}
