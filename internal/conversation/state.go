// Package conversation drives the multi-turn scheduling dialogue: it
// interprets inbound utterances, walks the per-conversation state machine,
// and hands confirmed selections to the booking commit path.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/booking-engine/internal/availability"
	"github.com/example/booking-engine/internal/persistence"
)

// State enumerates the dialogue positions.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingDate    State = "awaiting_date"
	StateAwaitingTime    State = "awaiting_time"
	StateAwaitingConfirm State = "awaiting_confirm"
	StateConfirmed       State = "confirmed"
	StateError           State = "error"
)

// Conversation is the working dialogue state for one (tenant, counterparty)
// pair. SelectedSlot is only populated in awaiting_confirm and confirmed;
// AttemptCount only increases.
type Conversation struct {
	TenantID        string
	Counterparty    string
	State           State
	CandidateSlots  []availability.Slot
	SelectedSlot    *availability.Slot
	SelectedDate    *time.Time
	LastBroadcastAt *time.Time
	AttemptCount    int
	LastActivityAt  time.Time
}

// Key identifies the conversation for locking and throttling.
func (c Conversation) Key() string {
	return c.TenantID + "|" + c.Counterparty
}

// touch records one processed trigger.
func (c *Conversation) touch(now time.Time) {
	c.AttemptCount++
	c.LastActivityAt = now
}

// transition moves to the next state, dropping working data that the target
// state must not carry.
func (c *Conversation) transition(next State) {
	if next != StateAwaitingConfirm && next != StateConfirmed {
		c.SelectedSlot = nil
	}
	if next == StateIdle || next == StateError || next == StateConfirmed {
		c.CandidateSlots = nil
		c.SelectedDate = nil
	}
	c.State = next
}

// statePayload is the serialized working data attached to the persisted
// record. The state machine's typed fields round-trip through it.
type statePayload struct {
	CandidateSlots  []availability.Slot `json:"candidate_slots,omitempty"`
	SelectedSlot    *availability.Slot  `json:"selected_slot,omitempty"`
	SelectedDate    *time.Time          `json:"selected_date,omitempty"`
	LastBroadcastAt *time.Time          `json:"last_broadcast_at,omitempty"`
}

// toRecord serializes the conversation for persistence.
func (c Conversation) toRecord() (persistence.ConversationRecord, error) {
	payload, err := json.Marshal(statePayload{
		CandidateSlots:  c.CandidateSlots,
		SelectedSlot:    c.SelectedSlot,
		SelectedDate:    c.SelectedDate,
		LastBroadcastAt: c.LastBroadcastAt,
	})
	if err != nil {
		return persistence.ConversationRecord{}, fmt.Errorf("marshal conversation payload: %w", err)
	}
	return persistence.ConversationRecord{
		TenantID:       c.TenantID,
		Counterparty:   c.Counterparty,
		State:          string(c.State),
		Payload:        payload,
		AttemptCount:   c.AttemptCount,
		LastActivityAt: c.LastActivityAt,
	}, nil
}

// fromRecord restores a conversation from its persisted form. Unknown states
// and corrupt payloads degrade to a fresh idle conversation rather than
// wedging the dialogue.
func fromRecord(record persistence.ConversationRecord) Conversation {
	conv := Conversation{
		TenantID:       record.TenantID,
		Counterparty:   record.Counterparty,
		State:          State(record.State),
		AttemptCount:   record.AttemptCount,
		LastActivityAt: record.LastActivityAt,
	}

	switch conv.State {
	case StateIdle, StateAwaitingDate, StateAwaitingTime, StateAwaitingConfirm, StateConfirmed, StateError:
	default:
		conv.State = StateIdle
	}

	var payload statePayload
	if len(record.Payload) > 0 {
		if err := json.Unmarshal(record.Payload, &payload); err != nil {
			conv.State = StateIdle
			return conv
		}
	}
	conv.CandidateSlots = payload.CandidateSlots
	conv.SelectedSlot = payload.SelectedSlot
	conv.SelectedDate = payload.SelectedDate
	conv.LastBroadcastAt = payload.LastBroadcastAt

	return conv
}

// newConversation starts a fresh idle dialogue.
func newConversation(tenantID, counterparty string, now time.Time) Conversation {
	return Conversation{
		TenantID:       tenantID,
		Counterparty:   counterparty,
		State:          StateIdle,
		LastActivityAt: now,
	}
}
