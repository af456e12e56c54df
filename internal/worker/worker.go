// Package worker implements the email delivery worker: a pool of
// goroutines that reserve jobs from the queue, re-validate conditional
// sends against the live booking, deliver through the mail transport, and
// report outcomes back to the queue's retry machinery.
//
// The worker runs as its own process. It shares nothing with producers but
// the queue store.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"matchbreak/internal/booking"
	"matchbreak/internal/mailer"
	"matchbreak/internal/mailq"
	"matchbreak/internal/types"
)

// Config tunes worker throughput.
type Config struct {
	// Concurrency is the number of jobs processed simultaneously.
	Concurrency int
	// RatePerSecond caps job starts across all workers, smoothing bursts
	// so the mail provider never sees a thundering herd after downtime.
	RatePerSecond int
}

func (c *Config) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 10
	}
}

// Worker drains the email queue.
type Worker struct {
	queue     *mailq.Queue
	bookings  booking.Store
	transport mailer.Transport
	renderer  mailer.Renderer
	metrics   *mailq.Metrics
	limiter   *rate.Limiter
	cfg       Config
	log       *slog.Logger
}

// New wires a worker over its dependencies.
func New(queue *mailq.Queue, bookings booking.Store, transport mailer.Transport, renderer mailer.Renderer, cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	cfg.normalize()
	return &Worker{
		queue:     queue,
		bookings:  bookings,
		transport: transport,
		renderer:  renderer,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		cfg:       cfg,
		log:       log,
	}
}

// WithMetrics attaches a metrics recorder. Must be called before Run.
func (w *Worker) WithMetrics(m *mailq.Metrics) *Worker {
	w.metrics = m
	return w
}

// Run processes jobs until ctx is cancelled. In-flight jobs finish their
// current attempt before Run returns; anything still leased at shutdown is
// reclaimed by lease expiry.
func (w *Worker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "email worker starting",
		"concurrency", w.cfg.Concurrency,
		"rate_per_second", w.cfg.RatePerSecond,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.log.Info("email worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		job, lease, err := w.queue.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.ErrorContext(ctx, "failed to reserve job", "error", err)
			// Avoid hammering a broken store.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		w.process(ctx, lease, job)
	}
}

// process runs a single execution attempt and reports the outcome. The
// outcome report uses Background with a timeout so a shutdown mid-attempt
// still records the result instead of abandoning the lease.
func (w *Worker) process(ctx context.Context, lease *mailq.Lease, job *mailq.EmailJob) {
	if w.metrics != nil {
		w.metrics.JobStarted()
		defer w.metrics.JobFinished()
	}

	log := w.log.With("job_id", job.ID, "type", string(job.Type), "attempt", job.Attempts)

	input, skip, err := w.prepare(ctx, job, log)
	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case skip:
		// The send condition no longer holds. The job completes without
		// sending; that is the contract for conditional emails.
		if w.metrics != nil {
			w.metrics.JobProcessed(job.Type, "skipped")
		}
		if err := w.queue.ReportSuccess(reportCtx, lease, job); err != nil {
			log.Error("failed to ack skipped job", "error", err)
		}
		return
	case err != nil:
		w.report(reportCtx, lease, job, err, log)
		return
	}

	start := time.Now()
	msgID, sendErr := w.transport.Send(ctx, input)
	if w.metrics != nil {
		w.metrics.ObserveSendDuration(time.Since(start))
	}

	if sendErr != nil {
		w.report(reportCtx, lease, job, sendErr, log)
		return
	}

	log.Info("email delivered", "message_id", msgID, "to", input.To)
	if err := w.queue.ReportSuccess(reportCtx, lease, job); err != nil {
		log.Error("failed to ack delivered job", "error", err)
	}
}

// prepare applies the execution-time status gate and template re-rendering.
// It returns skip=true when the job should complete without sending.
func (w *Worker) prepare(ctx context.Context, job *mailq.EmailJob, log *slog.Logger) (types.SendInput, bool, error) {
	input := job.SendInput()

	if !job.RequiresStatusCheck {
		return input, false, nil
	}

	b, err := w.bookings.FindByID(ctx, job.BookingID)
	if err != nil {
		// The booking store being down says nothing about the booking;
		// retry rather than guess.
		return input, false, err
	}
	if b == nil {
		log.Info("booking no longer exists, skipping send", "booking_id", job.BookingID)
		return input, true, nil
	}
	if b.Status != types.BookingConfirmed {
		log.Info("booking not confirmed, skipping send",
			"booking_id", job.BookingID,
			"status", string(b.Status),
		)
		return input, true, nil
	}

	if job.Template == mailq.TemplateReveal {
		rendered, err := w.renderer.RenderReveal(b)
		if err != nil {
			return input, false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render reveal email", err)
		}
		input.Subject = rendered.Subject
		input.HTML = rendered.HTML
		input.Text = rendered.Text
		// Send to the address on the booking, not the one captured at
		// enqueue time; customers update their email.
		if b.CustomerEmail != "" {
			input.To = b.CustomerEmail
		}
	}

	return input, false, nil
}

// report classifies the error and hands the outcome to the retry policy.
// Infrastructure errors (booking store down) are always retryable: they say
// nothing about the message itself. The same holds for a cancelled or
// expired run context: a shutdown landing mid-attempt interrupts the send
// without judging the message, so the attempt goes back to the queue
// instead of burning the job.
func (w *Worker) report(ctx context.Context, lease *mailq.Lease, job *mailq.EmailJob, cause error, log *slog.Logger) {
	retryable := mailq.IsTransient(cause)
	if !retryable && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		retryable = true
	}
	var appErr *types.AppError
	if !retryable && errors.As(cause, &appErr) && appErr.Code == types.ErrCodeInternalDB {
		retryable = true
	}
	if err := w.queue.ReportFailure(ctx, lease, job, cause, retryable); err != nil {
		log.Error("failed to report job failure", "error", err, "cause", cause)
	}
}
