package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/example/booking-engine/internal/availability"
	"github.com/example/booking-engine/internal/booking"
	"github.com/example/booking-engine/internal/calendar"
	"github.com/example/booking-engine/internal/config"
	"github.com/example/booking-engine/internal/conversation"
	httptransport "github.com/example/booking-engine/internal/http"
	"github.com/example/booking-engine/internal/logging"
	"github.com/example/booking-engine/internal/persistence/sqlite"
	"github.com/example/booking-engine/internal/reconcile"
	"github.com/example/booking-engine/internal/throttle"
)

// throttleMaxEntries bounds the in-memory dedupe cache.
const throttleMaxEntries = 10000

func main() {
	logger := logging.New(os.Stdout, slog.LevelInfo)

	app := &cli.App{
		Name:  "bookingd",
		Usage: "Appointment scheduling engine: webhook dialogue, availability, booking, calendar sync.",
		Commands: []*cli.Command{
			serveCommand(logger),
			reconcileCommand(logger),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("application failed", "error", err)
		os.Exit(1)
	}
}

// components is the wired object graph shared by the commands.
type components struct {
	pool         *sqlite.ConnectionPool
	tenants      *sqlite.TenantRepository
	appointments *sqlite.AppointmentRepository
	events       *sqlite.EventRepository
	convs        *sqlite.ConversationRepository
	engine       *conversation.Engine
	slots        *availability.Service
	reconciler   *reconcile.Reconciler
	cfg          config.Config
}

func buildComponents(ctx context.Context, logger *slog.Logger) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	pool, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := sqlite.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	tenantRepo := sqlite.NewTenantRepository(pool)
	appointmentRepo := sqlite.NewAppointmentRepository(pool)
	eventRepo := sqlite.NewEventRepository(pool)
	conversationRepo := sqlite.NewConversationRepository(pool)
	linkRepo := sqlite.NewCalendarLinkRepository(pool)

	oauthConf := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
	}

	client := calendar.NewGoogleClient(linkRepo, tenantRepo, logger)
	refresher := calendar.NewRefresher(linkRepo, oauthConf, time.Now, logger)

	retry := calendar.DefaultRetryConfig()
	if cfg.ExternalRetryMax > 0 {
		retry.MaxAttempts = cfg.ExternalRetryMax
	}
	pusher := calendar.NewPusher(client, refresher, retry, logger)

	step := time.Duration(cfg.SlotStepMinutes) * time.Minute
	slots := availability.NewService(tenantRepo, appointmentRepo, client, step, logger)

	committer := booking.NewCommitter(appointmentRepo, eventRepo, slots, pusher, cfg.ExternalCallTimeout, uuid.NewString, time.Now, logger)
	machine := conversation.NewMachine(slots, committer, tenantRepo, cfg.CandidateSlotCap, cfg.LookaheadDays, time.Now, logger)
	guard := throttle.NewGuard(cfg.TriggerTokenTTL, cfg.ThrottleWindow, cfg.ThrottleMaxReplies, throttleMaxEntries, time.Now)
	engine := conversation.NewEngine(guard, conversationRepo, machine, cfg.ConversationWindow, time.Now, logger)

	reconciler := reconcile.NewReconciler(eventRepo, appointmentRepo, client, pusher, logger)

	return &components{
		pool:         pool,
		tenants:      tenantRepo,
		appointments: appointmentRepo,
		events:       eventRepo,
		convs:        conversationRepo,
		engine:       engine,
		slots:        slots,
		reconciler:   reconciler,
		cfg:          cfg,
	}, nil
}

func serveCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook API server.",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			comps, err := buildComponents(ctx, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := comps.pool.Close(); cerr != nil {
					logger.Error("failed to close storage", "error", cerr)
				}
			}()

			triggerHandler := httptransport.NewTriggerHandler(comps.engine, time.Now, logger)
			availabilityHandler := httptransport.NewAvailabilityHandler(comps.slots, logger)
			eventHandler := httptransport.NewEventHandler(comps.events, comps.reconciler, time.Now, logger)

			router := httptransport.NewRouter(httptransport.RouterConfig{
				Triggers:     triggerHandler,
				Availability: availabilityHandler,
				Events:       eventHandler,
				Middleware: []func(nethttp.Handler) nethttp.Handler{
					httptransport.RequestLogger(logger),
					httptransport.RequireAPIKey(comps.tenants, logger),
				},
			})

			go expireConversations(ctx, comps, logger)

			server := &nethttp.Server{
				Addr:              fmt.Sprintf(":%d", comps.cfg.HTTPPort),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
					logger.Error("failed to shutdown server", "error", err)
				}
			}()

			logger.Info("booking engine listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func reconcileCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Push local events that never reached the external calendar.",
		Action: func(c *cli.Context) error {
			comps, err := buildComponents(c.Context, logger)
			if err != nil {
				return err
			}
			defer comps.pool.Close()

			tenants, err := comps.tenants.ListTenants(c.Context)
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}

			total := 0
			for _, t := range tenants {
				synced, err := comps.reconciler.Backfill(c.Context, t.ID)
				if err != nil {
					logger.Error("backfill failed", "tenant_id", t.ID, "error", err)
					continue
				}
				if synced > 0 {
					logger.Info("backfill pushed events", "tenant_id", t.ID, "count", synced)
				}
				total += synced
			}

			logger.Info("reconcile complete", "tenants", len(tenants), "events_synced", total)
			return nil
		},
	}
}

// expireConversations prunes dialogue state that aged past the recency
// window. Loads already treat stale state as absent; this keeps the table
// from growing without bound.
func expireConversations(ctx context.Context, comps *components, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-comps.cfg.ConversationWindow)
			if err := comps.convs.DeleteExpiredConversations(ctx, cutoff); err != nil {
				logger.Error("conversation cleanup failed", "error", err)
			}
		}
	}
}
