// Package main is the entrypoint for the producer API process.
//
// The API owns the trigger side of the email pipeline: it receives the
// Stripe payment webhook, confirms the booking, sends the confirmation
// inline with a queue fallback, schedules the destination reveal, and
// serves the token-guarded queue admin endpoints. Delivery itself happens
// in the separate email-worker process; the two share only the Redis
// queue store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"matchbreak/internal/api"
	"matchbreak/internal/booking"
	"matchbreak/internal/config"
	"matchbreak/internal/dedupe"
	"matchbreak/internal/mailer"
	"matchbreak/internal/mailq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api process exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, guard, err := newQueueBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics := mailq.NewMetrics(registry)
	queue := mailq.NewQueue(store, mailq.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.BaseDelay,
	}, logger).WithMetrics(metrics)

	pool, err := newBookingPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	bookings := booking.NewRepo(pool)

	transport := newTransport(cfg, logger)
	renderer, err := mailer.NewBookingRenderer(cfg.Server.SiteURL)
	if err != nil {
		return err
	}

	producer := mailq.NewProducer(queue, guard, transport, renderer, mailq.ProducerConfig{
		AdminAddress:   cfg.Email.AdminAddress,
		RevealLeadTime: cfg.Email.RevealLeadTime,
	}, logger)

	router := api.NewRouter(api.RouterDeps{
		Webhook: api.NewStripeWebhookHandler(
			&api.StripeVerifier{},
			bookings,
			bookings,
			producer,
			cfg.Billing.StripeWebhookSecret.Reveal(),
			logger,
		),
		Admin:      api.NewQueueAdminHandler(queue, guard, logger),
		AdminToken: cfg.Admin.Token,
		Health:     queue,
		Registry:   registry,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "port", cfg.Server.Port, "env", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newQueueBackend wires the queue store and dedupe guard. REDIS_URL set to
// "memory://" runs both in process, which makes a full local stack work
// without Redis; anything else is a real Redis connection shared by store
// and guard.
func newQueueBackend(cfg *config.Config, logger *slog.Logger) (mailq.QueueStore, dedupe.Guard, error) {
	retention := mailq.RetentionPolicy{
		Completed: cfg.Queue.CompletedRetention,
		Failed:    cfg.Queue.FailedRetention,
	}
	if cfg.Redis.URL == "memory://" {
		logger.Warn("using in-memory queue store, jobs do not survive restarts")
		return mailq.NewMemoryStore(retention), dedupe.NewMemoryGuard(dedupe.DefaultMarkerTTL), nil
	}

	store, err := mailq.NewRedisStore(mailq.RedisStoreConfig{
		URL:              cfg.Redis.URL,
		Prefix:           cfg.Redis.KeyPrefix,
		OperationTimeout: cfg.Redis.OperationTimeout,
		Retention:        retention,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, dedupe.NewRedisGuard(store.Client(), dedupe.DefaultMarkerTTL, logger), nil
}

// newBookingPool opens the booking database pool with the configured
// limits.
func newBookingPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Reveal())
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.AcquireTimeout)
	defer cancel()
	return pgxpool.NewWithConfig(connectCtx, poolCfg)
}

// newTransport picks the mail transport: real SMTP behind a circuit
// breaker, or the logging stub in local mode without credentials.
func newTransport(cfg *config.Config, logger *slog.Logger) mailer.Transport {
	if cfg.Environment == "local" && cfg.Email.SMTPUser == "" {
		logger.Info("no SMTP credentials in local mode, using stub transport")
		return mailer.NewStubTransport(logger)
	}
	smtp := mailer.NewSMTPTransport(mailer.SMTPConfig{
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		Username:    cfg.Email.SMTPUser,
		Password:    cfg.Email.SMTPPassword.Reveal(),
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	})
	return mailer.NewBreakerTransport(smtp, "smtp")
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", cfg.Service, "component", "api")
}
