package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/booking-engine/internal/persistence"
	"github.com/example/booking-engine/internal/throttle"
)

// Trigger is one inbound message or transcript turn.
type Trigger struct {
	TenantID         string
	Counterparty     string
	Text             string
	IdempotencyToken string
	ReceivedAt       time.Time
}

// Engine is the trigger-processing pipeline: throttle, serialize per
// conversation, load state, step the machine, persist, reply.
type Engine struct {
	guard   *throttle.Guard
	store   persistence.ConversationRepository
	machine *Machine
	locks   *keyedMutex
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine wires the pipeline. window bounds conversation recency: state
// older than the window is treated as absent on load.
func NewEngine(guard *throttle.Guard, store persistence.ConversationRepository, machine *Machine, window time.Duration, now func() time.Time, logger *slog.Logger) *Engine {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		guard:   guard,
		store:   store,
		machine: machine,
		locks:   newKeyedMutex(),
		window:  window,
		now:     now,
		logger:  logger,
	}
}

// HandleTrigger processes one inbound trigger and returns the outbound reply
// text. Throttled triggers return throttle.ErrDuplicateTrigger or
// throttle.ErrRateLimited and must produce no reply at all.
//
// Triggers for the same conversation are applied in arrival order under an
// exclusive per-key lock; the new state is persisted before the reply is
// returned, so a crash between persistence and delivery is recoverable by
// replay without duplicating side effects.
func (e *Engine) HandleTrigger(ctx context.Context, trigger Trigger) (string, error) {
	if e == nil {
		return "", fmt.Errorf("Engine is nil")
	}
	if trigger.TenantID == "" || trigger.Counterparty == "" {
		return "", fmt.Errorf("trigger missing tenant or counterparty")
	}

	key := trigger.TenantID + "|" + trigger.Counterparty
	if err := e.guard.Admit(trigger.IdempotencyToken, key); err != nil {
		e.logger.InfoContext(ctx, "trigger throttled",
			"tenant_id", trigger.TenantID, "reason", err.Error())
		return "", err
	}

	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	conv := e.loadConversation(ctx, trigger)
	reply := e.machine.Step(ctx, &conv, trigger.Text)

	record, err := conv.toRecord()
	if err != nil {
		e.logger.ErrorContext(ctx, "conversation serialization failed", "key", key, "error", err)
		return replyInternalError, nil
	}
	if err := e.store.PutConversation(ctx, record); err != nil {
		// The reply must not be delivered for a transition that was never
		// persisted; surface the storage failure instead.
		e.logger.ErrorContext(ctx, "conversation persistence failed", "key", key, "error", err)
		return replyInternalError, nil
	}

	return reply, nil
}

// loadConversation restores state for the pair, starting fresh when nothing
// is stored or the stored state has aged out of the recency window.
func (e *Engine) loadConversation(ctx context.Context, trigger Trigger) Conversation {
	now := e.now()

	record, err := e.store.GetConversation(ctx, trigger.TenantID, trigger.Counterparty)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			e.logger.ErrorContext(ctx, "conversation load failed",
				"tenant_id", trigger.TenantID, "error", err)
		}
		return newConversation(trigger.TenantID, trigger.Counterparty, now)
	}

	if now.Sub(record.LastActivityAt) > e.window {
		return newConversation(trigger.TenantID, trigger.Counterparty, now)
	}

	return fromRecord(record)
}
