package tenant

import (
	"context"
	"fmt"
	"time"
)

// Tenant is the business account that owns appointments and resources.
// Business hours, timezone and the resource catalog are read-only inputs to
// the scheduling engine; account management itself lives elsewhere.
type Tenant struct {
	ID              string
	Name            string
	Timezone        string
	CalendarID      string
	APIKeyHash      string
	DurationMinutes int
	Hours           WeekHours
	Resources       []Resource
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Resource is a schedulable unit belonging to a tenant: a technician, bay or van.
type Resource struct {
	ID   string
	Name string
}

// DayHours is an open interval within one day, in minutes from midnight.
// A nil entry in WeekHours means the business is closed that day.
type DayHours struct {
	OpenMinute  int `json:"open"`
	CloseMinute int `json:"close"`
}

// WeekHours holds per-weekday business hours, indexed by time.Weekday.
type WeekHours [7]*DayHours

// ForWeekday returns the configured hours for the given weekday, if any.
func (w WeekHours) ForWeekday(day time.Weekday) (DayHours, bool) {
	if day < time.Sunday || day > time.Saturday {
		return DayHours{}, false
	}
	hours := w[int(day)]
	if hours == nil {
		return DayHours{}, false
	}
	return *hours, true
}

// Location resolves the tenant timezone identifier. The location is resolved
// on every call rather than cached so a timezone change takes effect at the
// next computation.
func (t Tenant) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tenant %s has invalid timezone %q: %w", t.ID, t.Timezone, err)
	}
	return loc, nil
}

// Directory exposes read access to tenant configuration.
type Directory interface {
	GetTenant(ctx context.Context, id string) (Tenant, error)
}
