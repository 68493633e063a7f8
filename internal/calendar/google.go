package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/example/booking-engine/internal/availability"
	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/tenant"
)

// GoogleClient implements Client against the Google Calendar API using the
// tenant's stored calendar link credentials.
type GoogleClient struct {
	links   persistence.CalendarLinkRepository
	tenants tenant.Directory
	logger  *slog.Logger
}

// NewGoogleClient wires the Google Calendar implementation.
func NewGoogleClient(links persistence.CalendarLinkRepository, tenants tenant.Directory, logger *slog.Logger) *GoogleClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleClient{links: links, tenants: tenants, logger: logger}
}

// ListEvents fetches single events overlapping the window.
func (c *GoogleClient) ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]Event, error) {
	service, calendarID, err := c.serviceFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result, err := service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapGoogleError(err)
	}

	events := make([]Event, 0, len(result.Items))
	for _, item := range result.Items {
		// All-day entries carry no DateTime and cannot block fixed slots.
		if item.Start == nil || item.Start.DateTime == "" || item.End == nil {
			continue
		}
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			continue
		}
		events = append(events, Event{
			ID:          item.Id,
			Title:       item.Summary,
			Description: item.Description,
			Start:       start,
			End:         end,
		})
	}
	return events, nil
}

// CreateEvent pushes a new event and returns the remote identifier.
func (c *GoogleClient) CreateEvent(ctx context.Context, tenantID string, event Event) (string, error) {
	service, calendarID, err := c.serviceFor(ctx, tenantID)
	if err != nil {
		return "", err
	}

	created, err := service.Events.Insert(calendarID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", mapGoogleError(err)
	}
	return created.Id, nil
}

// PatchEvent applies the event fields to an existing remote event.
func (c *GoogleClient) PatchEvent(ctx context.Context, tenantID, eventID string, event Event) error {
	service, calendarID, err := c.serviceFor(ctx, tenantID)
	if err != nil {
		return err
	}

	_, err = service.Events.Patch(calendarID, eventID, toGoogleEvent(event)).Context(ctx).Do()
	return mapGoogleError(err)
}

// DeleteEvent removes a remote event. A missing event surfaces as ErrNotFound
// so the caller can treat it as already deleted.
func (c *GoogleClient) DeleteEvent(ctx context.Context, tenantID, eventID string) error {
	service, calendarID, err := c.serviceFor(ctx, tenantID)
	if err != nil {
		return err
	}

	return mapGoogleError(service.Events.Delete(calendarID, eventID).Context(ctx).Do())
}

// BusyIntervals adapts the event listing to the availability engine's
// busy-interval input.
func (c *GoogleClient) BusyIntervals(ctx context.Context, tenantID string, from, to time.Time) ([]availability.Interval, error) {
	events, err := c.ListEvents(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	intervals := make([]availability.Interval, 0, len(events))
	for _, event := range events {
		intervals = append(intervals, availability.Interval{Start: event.Start, End: event.End})
	}
	return intervals, nil
}

func (c *GoogleClient) serviceFor(ctx context.Context, tenantID string) (*calendarapi.Service, string, error) {
	link, err := c.links.GetCalendarLink(ctx, tenantID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, "", ErrNotConnected
		}
		return nil, "", fmt.Errorf("load calendar link: %w", err)
	}
	if !link.Connected || link.AccessToken == "" {
		return nil, "", ErrNotConnected
	}

	owner, err := c.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, "", fmt.Errorf("load tenant: %w", err)
	}
	calendarID := owner.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: link.AccessToken})
	service, err := calendarapi.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, "", fmt.Errorf("build calendar service: %w", err)
	}
	return service, calendarID, nil
}

func toGoogleEvent(event Event) *calendarapi.Event {
	return &calendarapi.Event{
		Summary:     event.Title,
		Description: event.Description,
		Start:       &calendarapi.EventDateTime{DateTime: event.Start.UTC().Format(time.RFC3339)},
		End:         &calendarapi.EventDateTime{DateTime: event.End.UTC().Format(time.RFC3339)},
	}
}

// mapGoogleError translates transport failures into the package sentinels.
func mapGoogleError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	// Network level failures are transient by assumption.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
