// Package throttle drops duplicate inbound triggers and rate-limits repeated
// automated replies to one conversation.
package throttle

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDuplicateTrigger is returned when the idempotency token was already
	// seen; the trigger is dropped silently with no reply.
	ErrDuplicateTrigger = errors.New("throttle: duplicate trigger")
	// ErrRateLimited is returned when a conversation exceeded its reply
	// budget for the current window.
	ErrRateLimited = errors.New("throttle: conversation rate limited")
)

// Guard tracks seen idempotency tokens and per-conversation reply counts.
// Both stores are bounded: entries expire by TTL and the token store evicts
// arbitrarily at capacity.
type Guard struct {
	mu         sync.Mutex
	now        func() time.Time
	tokenTTL   time.Duration
	window     time.Duration
	maxReplies int
	maxEntries int
	tokens     map[string]time.Time
	replies    map[string][]time.Time
}

// NewGuard builds a guard. Zero values fall back to safe defaults.
func NewGuard(tokenTTL, window time.Duration, maxReplies, maxEntries int, now func() time.Time) *Guard {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxReplies <= 0 {
		maxReplies = 5
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{
		now:        now,
		tokenTTL:   tokenTTL,
		window:     window,
		maxReplies: maxReplies,
		maxEntries: maxEntries,
		tokens:     make(map[string]time.Time),
		replies:    make(map[string][]time.Time),
	}
}

// Admit records the trigger and reports whether it may produce a reply.
// token is the delivery idempotency token; conversationKey identifies the
// (tenant, counterparty) pair.
func (g *Guard) Admit(token, conversationKey string) error {
	if g == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.cleanupLocked(now)

	if token != "" {
		if _, seen := g.tokens[token]; seen {
			return ErrDuplicateTrigger
		}
	}

	recent := pruneBefore(g.replies[conversationKey], now.Add(-g.window))
	if len(recent) >= g.maxReplies {
		g.replies[conversationKey] = recent
		return ErrRateLimited
	}

	if token != "" {
		if len(g.tokens) >= g.maxEntries {
			g.evictTokenLocked()
		}
		g.tokens[token] = now.Add(g.tokenTTL)
	}
	g.replies[conversationKey] = append(recent, now)

	return nil
}

func (g *Guard) cleanupLocked(now time.Time) {
	for token, expiry := range g.tokens {
		if now.After(expiry) {
			delete(g.tokens, token)
		}
	}
	cutoff := now.Add(-g.window)
	for key, stamps := range g.replies {
		pruned := pruneBefore(stamps, cutoff)
		if len(pruned) == 0 {
			delete(g.replies, key)
			continue
		}
		g.replies[key] = pruned
	}
}

func (g *Guard) evictTokenLocked() {
	for token := range g.tokens {
		delete(g.tokens, token)
		return
	}
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, stamp := range stamps {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	return kept
}
