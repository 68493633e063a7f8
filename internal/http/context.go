// Package http is the inbound webhook transport: it authenticates tenant
// requests, feeds triggers into the conversation engine, and serves the
// reconciled calendar view.
package http

import (
	"context"

	"github.com/example/booking-engine/internal/tenant"
)

type contextKey string

const (
	tenantContextKey  contextKey = "tenant"
	eventIDContextKey contextKey = "event_id"
)

// ContextWithTenant returns a derived context carrying the authenticated tenant.
func ContextWithTenant(ctx context.Context, t tenant.Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, t)
}

// TenantFromContext extracts the authenticated tenant from context if available.
func TenantFromContext(ctx context.Context) (tenant.Tenant, bool) {
	t, ok := ctx.Value(tenantContextKey).(tenant.Tenant)
	return t, ok
}

// ContextWithEventID injects the event identifier resolved from the request path.
func ContextWithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDContextKey, eventID)
}

// EventIDFromContext extracts an event identifier previously associated with the context.
func EventIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(eventIDContextKey).(string)
	return id, ok
}
