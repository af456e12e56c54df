// Package main is the entrypoint for the email worker process.
//
// The worker is a long-running consumer of the Redis email queue. It
// reserves jobs under leases, re-validates conditional sends against the
// booking database, delivers through SMTP behind a circuit breaker, and
// reports outcomes back to the queue's retry machinery. A small sidecar
// HTTP listener serves /metrics and /healthz.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchbreak/internal/booking"
	"matchbreak/internal/config"
	"matchbreak/internal/mailer"
	"matchbreak/internal/mailq"
	"matchbreak/internal/worker"
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
		logger.Error("worker process exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newQueueStore(cfg, logger)
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

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Reveal())
	if err != nil {
		return err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
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

	w := worker.New(queue, bookings, transport, renderer, worker.Config{
		Concurrency:   cfg.Queue.Concurrency,
		RatePerSecond: cfg.Queue.RatePerSecond,
	}, logger).WithMetrics(metrics)

	sidecar := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           sidecarMux(registry, queue),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := sidecar.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	err = w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sidecar.Shutdown(shutdownCtx)
	return err
}

// newQueueStore opens the queue store. REDIS_URL set to "memory://" runs
// the queue in process for local single-binary experiments; note the
// producer must then live in the same process for jobs to be visible.
func newQueueStore(cfg *config.Config, logger *slog.Logger) (mailq.QueueStore, error) {
	retention := mailq.RetentionPolicy{
		Completed: cfg.Queue.CompletedRetention,
		Failed:    cfg.Queue.FailedRetention,
	}
	if cfg.Redis.URL == "memory://" {
		logger.Warn("using in-memory queue store, jobs do not survive restarts")
		return mailq.NewMemoryStore(retention), nil
	}
	return mailq.NewRedisStore(mailq.RedisStoreConfig{
		URL:              cfg.Redis.URL,
		Prefix:           cfg.Redis.KeyPrefix,
		OperationTimeout: cfg.Redis.OperationTimeout,
		Retention:        retention,
	}, logger)
}

// sidecarMux serves operational endpoints for the worker process.
func sidecarMux(registry *prometheus.Registry, queue *mailq.Queue) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := queue.Ping(ctx); err != nil {
			http.Error(w, "queue store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
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
	return slog.New(handler).With("service", cfg.Service, "component", "email-worker")
}
