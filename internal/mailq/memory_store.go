package mailq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryPollInterval = 5 * time.Millisecond

// MemoryStore is a single-process QueueStore used by tests and local
// deployments that run without Redis. It honors the same contract as the
// Redis store: per-job mutual exclusion via leases, delayed visibility,
// attempt counting on reserve, and retention-bounded terminal records.
type MemoryStore struct {
	mu        sync.Mutex
	waiting   []*EmailJob
	delayed   []*EmailJob
	active    map[string]*memoryLease
	completed []*memoryTerminal
	failed    []*memoryTerminal

	retention    RetentionPolicy
	pollInterval time.Duration
	closed       bool
}

type memoryLease struct {
	job      *EmailJob
	expireAt time.Time
}

type memoryTerminal struct {
	job        *EmailJob
	finishedAt time.Time
	reason     string
}

// NewMemoryStore creates an empty in-memory store with the given retention
// policy.
func NewMemoryStore(retention RetentionPolicy) *MemoryStore {
	retention.normalize()
	return &MemoryStore{
		active:       make(map[string]*memoryLease),
		retention:    retention,
		pollInterval: defaultMemoryPollInterval,
	}
}

// Enqueue persists the job, honoring job.RunAt for delayed visibility.
func (s *MemoryStore) Enqueue(ctx context.Context, job *EmailJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job == nil {
		return errors.New("job is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory store is closed")
	}

	cp := job.clone()
	if cp.RunAt.After(time.Now()) {
		s.delayed = append(s.delayed, cp)
	} else {
		s.waiting = append(s.waiting, cp)
	}
	return nil
}

// Reserve blocks until a job is eligible, takes a lease on it, and returns
// it with Attempts incremented.
func (s *MemoryStore) Reserve(ctx context.Context, leaseFor time.Duration) (*EmailJob, *Lease, error) {
	if leaseFor <= 0 {
		leaseFor = DefaultLeaseTTL
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, nil, errors.New("memory store is closed")
		}
		now := time.Now()
		s.promoteLocked(now)

		if len(s.waiting) > 0 {
			job := s.waiting[0]
			s.waiting = s.waiting[1:]
			job.Attempts++

			lease := &Lease{
				JobID:    job.ID,
				Token:    uuid.New().String(),
				ExpireAt: now.Add(leaseFor),
			}
			s.active[lease.Token] = &memoryLease{job: job, expireAt: lease.ExpireAt}
			out := job.clone()
			s.mu.Unlock()
			return out, lease, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// Ack marks the leased job completed.
func (s *MemoryStore) Ack(ctx context.Context, lease *Lease, job *EmailJob) error {
	return s.finish(ctx, lease, job, StateCompleted, "")
}

// Retry releases the lease and reschedules the job to run at runAt.
func (s *MemoryStore) Retry(ctx context.Context, lease *Lease, job *EmailJob, runAt time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeLeaseLocked(lease); err != nil {
		return err
	}
	cp := job.clone()
	cp.RunAt = runAt.UTC()
	cp.LastError = reason
	if cp.RunAt.After(time.Now()) {
		s.delayed = append(s.delayed, cp)
	} else {
		s.waiting = append(s.waiting, cp)
	}
	return nil
}

// Fail marks the leased job terminally failed.
func (s *MemoryStore) Fail(ctx context.Context, lease *Lease, job *EmailJob, reason string) error {
	return s.finish(ctx, lease, job, StateFailed, reason)
}

// Stats returns per-state counts after pruning expired terminal records.
func (s *MemoryStore) Stats(ctx context.Context) (QueueStats, error) {
	if err := ctx.Err(); err != nil {
		return QueueStats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.promoteLocked(now)
	s.pruneLocked(now)

	return QueueStats{
		Active:    int64(len(s.active)),
		Waiting:   int64(len(s.waiting)),
		Delayed:   int64(len(s.delayed)),
		Completed: int64(len(s.completed)),
		Failed:    int64(len(s.failed)),
	}, nil
}

// ListWaiting returns up to limit pending jobs, visible ones first, then
// delayed ones soonest first.
func (s *MemoryStore) ListWaiting(ctx context.Context, limit int) ([]JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked(time.Now())

	out := make([]JobSnapshot, 0, limit)
	for _, job := range s.waiting {
		if len(out) == limit {
			return out, nil
		}
		out = append(out, JobSnapshot{Job: *job.clone(), State: StateWaiting})
	}

	delayed := make([]*EmailJob, len(s.delayed))
	copy(delayed, s.delayed)
	sort.Slice(delayed, func(i, j int) bool { return delayed[i].RunAt.Before(delayed[j].RunAt) })
	for _, job := range delayed {
		if len(out) == limit {
			break
		}
		out = append(out, JobSnapshot{Job: *job.clone(), State: StateDelayed})
	}
	return out, nil
}

// ListFailed returns up to limit failed jobs, most recent first.
func (s *MemoryStore) ListFailed(ctx context.Context, limit int) ([]JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())

	out := make([]JobSnapshot, 0, limit)
	for i := len(s.failed) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.failed[i]
		out = append(out, JobSnapshot{
			Job:           *rec.job.clone(),
			State:         StateFailed,
			FinishedAt:    rec.finishedAt,
			FailureReason: rec.reason,
		})
	}
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close marks the store closed; subsequent operations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) finish(ctx context.Context, lease *Lease, job *EmailJob, state JobState, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeLeaseLocked(lease); err != nil {
		return err
	}
	rec := &memoryTerminal{job: job.clone(), finishedAt: time.Now(), reason: reason}
	if state == StateFailed {
		s.failed = append(s.failed, rec)
	} else {
		s.completed = append(s.completed, rec)
	}
	return nil
}

// takeLeaseLocked consumes the lease, rejecting unknown or already-consumed
// tokens.
func (s *MemoryStore) takeLeaseLocked(lease *Lease) error {
	if lease == nil || lease.Token == "" {
		return errors.New("lease token is required")
	}
	if _, ok := s.active[lease.Token]; !ok {
		return errors.New("lease not found")
	}
	delete(s.active, lease.Token)
	return nil
}

// promoteLocked moves due delayed jobs to the waiting list and requeues jobs
// whose lease expired without a reported outcome (the worker died mid-send;
// at-least-once semantics allow the re-delivery).
func (s *MemoryStore) promoteLocked(now time.Time) {
	if len(s.delayed) > 0 {
		remaining := s.delayed[:0]
		for _, job := range s.delayed {
			if job.RunAt.After(now) {
				remaining = append(remaining, job)
			} else {
				s.waiting = append(s.waiting, job)
			}
		}
		s.delayed = remaining
	}

	for token, l := range s.active {
		if l.expireAt.Before(now) {
			delete(s.active, token)
			s.waiting = append(s.waiting, l.job)
		}
	}
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	s.completed = pruneTerminals(s.completed, now.Add(-s.retention.Completed))
	s.failed = pruneTerminals(s.failed, now.Add(-s.retention.Failed))
}

func pruneTerminals(records []*memoryTerminal, cutoff time.Time) []*memoryTerminal {
	kept := records[:0]
	for _, rec := range records {
		if rec.finishedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// Compile-time assertion that MemoryStore implements QueueStore.
var _ QueueStore = (*MemoryStore)(nil)
