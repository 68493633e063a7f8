package persistence

import "time"

// Appointment statuses. An appointment is created confirmed by the commit
// path; cancelled and completed are reached through later edits.
const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusCancelled = "cancelled"
	AppointmentStatusCompleted = "completed"
)

// Appointment is the authoritative committed booking, created at most once
// per idempotency key.
type Appointment struct {
	ID                  string
	TenantID            string
	ResourceID          *string
	CounterpartyContact string
	ScheduledAt         time.Time
	DurationMinutes     int
	Status              string
	ExternalEventID     *string
	IdempotencyKey      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// End reports the exclusive end instant of the appointment window.
func (a Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Active reports whether the appointment still occupies its window.
func (a Appointment) Active() bool {
	return a.Status != AppointmentStatusCancelled
}

// EventMirror is the local calendar-event record kept alongside an
// appointment (or created independently by the tenant). It is the local half
// of the reconciled calendar view.
type EventMirror struct {
	ID              string
	TenantID        string
	AppointmentID   *string
	Title           string
	Start           time.Time
	End             time.Time
	ExternalEventID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConversationRecord is the persisted form of a dialogue state. The working
// data (candidate slots, selection, selected date) is serialized by the
// conversation package into Payload; persistence treats it as opaque.
type ConversationRecord struct {
	TenantID       string
	Counterparty   string
	State          string
	Payload        []byte
	AttemptCount   int
	LastActivityAt time.Time
}

// CalendarLink is the per-tenant external calendar credential state. It is
// mutated only by the token refresh routine.
type CalendarLink struct {
	TenantID     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Connected    bool
	UpdatedAt    time.Time
}
