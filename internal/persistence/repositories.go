package persistence

import (
	"context"
	"time"
)

// AppointmentFilter narrows appointment queries to a tenant and window.
type AppointmentFilter struct {
	TenantID    string
	StartsAfter *time.Time
	EndsBefore  *time.Time
	ActiveOnly  bool
}

// AppointmentRepository stores committed bookings and their event mirrors.
//
// CreateBooking writes the appointment and its mirror in one local
// transaction; the idempotency key unique constraint at this layer is the
// authoritative arbiter for replayed commits.
type AppointmentRepository interface {
	CreateBooking(ctx context.Context, appointment Appointment, mirror EventMirror) error
	GetAppointment(ctx context.Context, id string) (Appointment, error)
	GetAppointmentByIdempotencyKey(ctx context.Context, tenantID, key string) (Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id, status string) error
	SetExternalEventID(ctx context.Context, appointmentID, externalEventID string) error
}

// EventRepository stores the local calendar-event mirrors.
type EventRepository interface {
	GetEvent(ctx context.Context, id string) (EventMirror, error)
	ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]EventMirror, error)
	ListUnsyncedEvents(ctx context.Context, tenantID string) ([]EventMirror, error)
	UpdateEvent(ctx context.Context, event EventMirror) error
	DeleteEvent(ctx context.Context, id string) error
	ClearExternalEventID(ctx context.Context, id string) error
	SetExternalEventID(ctx context.Context, id, externalEventID string) error
}

// ConversationRepository stores per-(tenant, counterparty) dialogue state.
type ConversationRepository interface {
	GetConversation(ctx context.Context, tenantID, counterparty string) (ConversationRecord, error)
	PutConversation(ctx context.Context, record ConversationRecord) error
	DeleteExpiredConversations(ctx context.Context, before time.Time) error
}

// CalendarLinkRepository stores per-tenant external calendar credentials.
type CalendarLinkRepository interface {
	GetCalendarLink(ctx context.Context, tenantID string) (CalendarLink, error)
	UpdateCalendarLink(ctx context.Context, link CalendarLink) error
}
