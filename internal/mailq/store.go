package mailq

import (
	"context"
	"time"
)

// DefaultLeaseTTL bounds how long a reserved job stays invisible to other
// workers before its lease expires.
const DefaultLeaseTTL = 2 * time.Minute

// Lease proves exclusive ownership of a reserved job. Every terminal or
// retry transition must present the lease; the store rejects transitions
// whose lease has expired or was already consumed.
type Lease struct {
	JobID    string
	Token    string
	ExpireAt time.Time
}

// QueueStats is the observable state of the queue broken down by job state.
type QueueStats struct {
	Active    int64 `json:"active"`
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// JobSnapshot is a read-only view of a job returned by the inspection
// helpers. FailureReason is populated only for failed jobs.
type JobSnapshot struct {
	Job           EmailJob  `json:"job"`
	State         JobState  `json:"state"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// RetentionPolicy bounds how long terminal job records are kept before they
// become eligible for garbage collection.
type RetentionPolicy struct {
	Completed time.Duration
	Failed    time.Duration
}

// DefaultRetention keeps completed jobs for 24 hours and failed jobs for
// 7 days.
var DefaultRetention = RetentionPolicy{
	Completed: 24 * time.Hour,
	Failed:    7 * 24 * time.Hour,
}

func (p *RetentionPolicy) normalize() {
	if p.Completed <= 0 {
		p.Completed = DefaultRetention.Completed
	}
	if p.Failed <= 0 {
		p.Failed = DefaultRetention.Failed
	}
}

// QueueStore is the persistence contract shared by producers and workers.
// All mutations that must be atomic (job state transitions, lease handoff)
// are the store's responsibility; callers never read-modify-write shared
// state client-side.
//
// Implementations must guarantee that two concurrent Reserve calls never
// return the same job instance, and that Reserve increments the job's
// Attempts counter as part of taking the lease.
type QueueStore interface {
	// Enqueue persists the job durably, honoring job.RunAt for delayed
	// visibility. It returns as soon as the job is persisted.
	Enqueue(ctx context.Context, job *EmailJob) error

	// Reserve blocks (or long-polls) until a job is eligible, marks it
	// active under a fresh lease, and returns it with Attempts already
	// incremented. It returns ctx.Err() when the context is done.
	Reserve(ctx context.Context, leaseFor time.Duration) (*EmailJob, *Lease, error)

	// Ack marks the leased job completed and retains the record per the
	// retention policy.
	Ack(ctx context.Context, lease *Lease, job *EmailJob) error

	// Retry releases the lease and reschedules the job to run at runAt,
	// recording reason as the job's LastError.
	Retry(ctx context.Context, lease *Lease, job *EmailJob, runAt time.Time, reason string) error

	// Fail marks the leased job terminally failed with the given reason.
	Fail(ctx context.Context, lease *Lease, job *EmailJob, reason string) error

	// Stats returns per-state counts after pruning expired terminal
	// records.
	Stats(ctx context.Context) (QueueStats, error)

	// ListWaiting returns up to limit jobs currently visible or delayed,
	// soonest first.
	ListWaiting(ctx context.Context, limit int) ([]JobSnapshot, error)

	// ListFailed returns up to limit terminally failed jobs, most recent
	// first, including their failure reasons.
	ListFailed(ctx context.Context, limit int) ([]JobSnapshot, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	Close() error
}
