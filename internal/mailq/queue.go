package mailq

import (
	"context"
	"log/slog"
	"time"

	"matchbreak/internal/types"
)

// JobObserver receives synchronous callbacks after each terminal job
// transition. Observers must be fast; they run on the worker's goroutine.
type JobObserver interface {
	OnCompleted(job *EmailJob)
	OnFailed(job *EmailJob, reason string)
}

// EnqueueOptions tune a single enqueue call. Zero values fall back to the
// queue-level defaults.
type EnqueueOptions struct {
	// Delay postpones the job's first execution.
	Delay time.Duration
	// MaxAttempts and BaseDelay are fixed at enqueue time per job.
	MaxAttempts int
	BaseDelay   time.Duration
}

// Options configure the queue runtime.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	LeaseTTL    time.Duration
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = DefaultLeaseTTL
	}
}

// Queue is the runtime over a QueueStore: it validates enqueue input,
// applies retry scheduling with exponential backoff, notifies observers on
// terminal transitions, and exposes stats and inspection helpers.
//
// A Queue instance is safe for concurrent use. The producer process and the
// worker process each construct their own Queue over their own store
// connection; the store is the only shared state.
type Queue struct {
	store     QueueStore
	opts      Options
	log       *slog.Logger
	metrics   *Metrics
	observers []JobObserver
}

// NewQueue creates a queue runtime over the given store.
func NewQueue(store QueueStore, opts Options, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	opts.normalize()
	return &Queue{store: store, opts: opts, log: log}
}

// WithMetrics attaches a metrics recorder. Must be called before the queue
// is shared across goroutines.
func (q *Queue) WithMetrics(m *Metrics) *Queue {
	q.metrics = m
	return q
}

// AddObserver registers a terminal-transition observer. Must be called
// before the queue is shared across goroutines.
func (q *Queue) AddObserver(o JobObserver) {
	if o != nil {
		q.observers = append(q.observers, o)
	}
}

// Enqueue validates the input, persists a new job, and returns its ID. It
// returns as soon as the job is durable; it never waits for delivery.
func (q *Queue) Enqueue(ctx context.Context, input QueuedEmail, opts *EnqueueOptions) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}

	var delay time.Duration
	maxAttempts := q.opts.MaxAttempts
	baseDelay := q.opts.BaseDelay
	if opts != nil {
		if opts.Delay < 0 {
			return "", types.NewAppError(types.ErrCodeValidationInvalidDelay, "delay must not be negative", nil)
		}
		delay = opts.Delay
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
		if opts.BaseDelay > 0 {
			baseDelay = opts.BaseDelay
		}
	}

	job := newJob(input, delay, maxAttempts, baseDelay, time.Now())
	if err := q.store.Enqueue(ctx, job); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue email job", err)
	}

	if q.metrics != nil {
		q.metrics.JobEnqueued(job.Type)
	}
	q.log.InfoContext(ctx, "email job enqueued",
		"job_id", job.ID,
		"type", string(job.Type),
		"booking_id", job.BookingID,
		"delay", delay.String(),
	)
	return job.ID, nil
}

// Reserve blocks until the next eligible job is available and returns it
// under a lease. Used only by the worker runtime.
func (q *Queue) Reserve(ctx context.Context) (*EmailJob, *Lease, error) {
	return q.store.Reserve(ctx, q.opts.LeaseTTL)
}

// ReportSuccess marks the leased job completed.
func (q *Queue) ReportSuccess(ctx context.Context, lease *Lease, job *EmailJob) error {
	if err := q.store.Ack(ctx, lease, job); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.JobProcessed(job.Type, "completed")
	}
	for _, o := range q.observers {
		o.OnCompleted(job)
	}
	return nil
}

// ReportFailure applies the retry policy: retryable failures below the
// attempt cap are rescheduled with exponential backoff
// (baseDelay * 2^(attempts-1)); everything else is terminal.
func (q *Queue) ReportFailure(ctx context.Context, lease *Lease, job *EmailJob, cause error, retryable bool) error {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	if retryable && job.Attempts < job.MaxAttempts {
		backoff := job.NextBackoff()
		runAt := time.Now().Add(backoff)
		if err := q.store.Retry(ctx, lease, job, runAt, reason); err != nil {
			return err
		}
		if q.metrics != nil {
			q.metrics.JobProcessed(job.Type, "retried")
		}
		q.log.WarnContext(ctx, "email job scheduled for retry",
			"job_id", job.ID,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"backoff", backoff.String(),
			"error", reason,
		)
		return nil
	}

	if err := q.store.Fail(ctx, lease, job, reason); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.JobProcessed(job.Type, "failed")
	}
	q.log.ErrorContext(ctx, "email job failed terminally",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"retryable", retryable,
		"error", reason,
	)
	for _, o := range q.observers {
		o.OnFailed(job, reason)
	}
	return nil
}

// Stats returns per-state job counts.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	return q.store.Stats(ctx)
}

// ListWaiting returns pending job snapshots for the admin surface.
func (q *Queue) ListWaiting(ctx context.Context, limit int) ([]JobSnapshot, error) {
	return q.store.ListWaiting(ctx, limit)
}

// ListFailed returns failed job snapshots for the admin surface.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]JobSnapshot, error) {
	return q.store.ListFailed(ctx, limit)
}

// Ping verifies store connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Close releases the underlying store connection.
func (q *Queue) Close() error {
	return q.store.Close()
}
