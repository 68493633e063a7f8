package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/example/booking-engine/internal/persistence"
)

// ErrReconnectRequired indicates the refresh grant itself was rejected; the
// tenant's calendar link has been flagged as disconnected and needs a manual
// re-authorization.
var ErrReconnectRequired = errors.New("calendar: link requires reconnection")

// Refresher exchanges a tenant's refresh token for a fresh access token.
//
// Concurrent refreshes for the same tenant coalesce onto one in-flight grant
// request: duplicate refresh calls can invalidate each other's resulting
// token on some providers. The link row is mutated only here.
type Refresher struct {
	links  persistence.CalendarLinkRepository
	conf   *oauth2.Config
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// NewRefresher wires the token refresh routine.
func NewRefresher(links persistence.CalendarLinkRepository, conf *oauth2.Config, now func() time.Time, logger *slog.Logger) *Refresher {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{links: links, conf: conf, now: now, logger: logger}
}

// Refresh obtains and persists a new access token for the tenant, returning
// it. A failed grant marks the link disconnected and returns
// ErrReconnectRequired.
func (r *Refresher) Refresh(ctx context.Context, tenantID string) (string, error) {
	token, err, _ := r.group.Do(tenantID, func() (any, error) {
		return r.refreshOnce(ctx, tenantID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (r *Refresher) refreshOnce(ctx context.Context, tenantID string) (string, error) {
	link, err := r.links.GetCalendarLink(ctx, tenantID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("load calendar link: %w", err)
	}
	if link.RefreshToken == "" {
		return "", ErrNotConnected
	}

	source := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: link.RefreshToken})
	fresh, err := source.Token()
	if err != nil {
		r.logger.WarnContext(ctx, "token refresh failed, flagging link for reconnection",
			"tenant_id", tenantID, "error", err)
		link.Connected = false
		link.UpdatedAt = r.now()
		if uerr := r.links.UpdateCalendarLink(ctx, link); uerr != nil {
			r.logger.ErrorContext(ctx, "failed to flag calendar link", "tenant_id", tenantID, "error", uerr)
		}
		return "", fmt.Errorf("%w: %v", ErrReconnectRequired, err)
	}

	link.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		link.RefreshToken = fresh.RefreshToken
	}
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry
		link.ExpiresAt = &expiry
	}
	link.Connected = true
	link.UpdatedAt = r.now()

	if err := r.links.UpdateCalendarLink(ctx, link); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	return fresh.AccessToken, nil
}
