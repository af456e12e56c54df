package mailq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/types"
)

func testQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	return NewQueue(NewMemoryStore(DefaultRetention), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recordingObserver struct {
	completed []string
	failed    map[string]string
}

func (o *recordingObserver) OnCompleted(job *EmailJob) {
	o.completed = append(o.completed, job.ID)
}

func (o *recordingObserver) OnFailed(job *EmailJob, reason string) {
	if o.failed == nil {
		o.failed = make(map[string]string)
	}
	o.failed[job.ID] = reason
}

func TestQueueEnqueueRejectsInvalidInput(t *testing.T) {
	q := testQueue(t, Options{})

	_, err := q.Enqueue(context.Background(), QueuedEmail{}, nil)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting, "invalid input must never enter the queue")
}

func TestQueueEnqueueRejectsNegativeDelay(t *testing.T) {
	q := testQueue(t, Options{})

	_, err := q.Enqueue(context.Background(), validInput(), &EnqueueOptions{Delay: -time.Second})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidDelay, appErr.Code)
}

func TestQueueEnqueueReturnsDurableJobID(t *testing.T) {
	q := testQueue(t, Options{})

	id, err := q.Enqueue(context.Background(), validInput(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snapshots, err := q.ListWaiting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, id, snapshots[0].Job.ID)
}

func TestQueueRetryUntilExhaustion(t *testing.T) {
	q := testQueue(t, Options{MaxAttempts: 3, BaseDelay: time.Millisecond})
	obs := &recordingObserver{}
	q.AddObserver(obs)

	id, err := q.Enqueue(context.Background(), validInput(), nil)
	require.NoError(t, err)

	transient := errors.New("dial tcp: connection refused")
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		job, lease, err := q.Reserve(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, attempt, job.Attempts)
		require.NoError(t, q.ReportFailure(context.Background(), lease, job, transient, true))
	}

	// Three attempts exhausted the budget; the job is terminal now.
	failed, err := q.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].Job.ID)

	require.Contains(t, obs.failed, id)
	assert.Contains(t, obs.failed[id], "connection refused")
	assert.Empty(t, obs.completed)
}

func TestQueuePermanentFailureNeverRetries(t *testing.T) {
	q := testQueue(t, Options{MaxAttempts: 5, BaseDelay: time.Millisecond})

	id, err := q.Enqueue(context.Background(), validInput(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	job, lease, err := q.Reserve(ctx)
	cancel()
	require.NoError(t, err)

	require.NoError(t, q.ReportFailure(context.Background(), lease, job, errors.New("550 no such user"), false))

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Waiting)
	assert.Zero(t, stats.Delayed)

	failed, err := q.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].Job.ID)
	assert.Equal(t, 1, failed[0].Job.Attempts, "a permanent failure burns exactly one attempt")
}

func TestQueueRetryAppliesBackoffSchedule(t *testing.T) {
	base := 40 * time.Millisecond
	q := testQueue(t, Options{MaxAttempts: 5, BaseDelay: base})

	_, err := q.Enqueue(context.Background(), validInput(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	job, lease, err := q.Reserve(ctx)
	cancel()
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, q.ReportFailure(context.Background(), lease, job, errors.New("timeout"), true))

	// First failure schedules the retry one base delay out.
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	again, lease, err := q.Reserve(ctx)
	cancel()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(before), base)
	assert.Equal(t, 2, again.Attempts)

	// Second failure doubles the wait.
	before = time.Now()
	require.NoError(t, q.ReportFailure(context.Background(), lease, again, errors.New("timeout"), true))

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	third, _, err := q.Reserve(ctx)
	cancel()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(before), 2*base)
	assert.Equal(t, 3, third.Attempts)
}

func TestQueueReportSuccessNotifiesObservers(t *testing.T) {
	q := testQueue(t, Options{})
	obs := &recordingObserver{}
	q.AddObserver(obs)

	id, err := q.Enqueue(context.Background(), validInput(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	job, lease, err := q.Reserve(ctx)
	cancel()
	require.NoError(t, err)

	require.NoError(t, q.ReportSuccess(context.Background(), lease, job))
	assert.Equal(t, []string{id}, obs.completed)
}

func TestQueueEnqueueOverrides(t *testing.T) {
	q := testQueue(t, Options{MaxAttempts: 5, BaseDelay: 5 * time.Second})

	_, err := q.Enqueue(context.Background(), validInput(), &EnqueueOptions{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
	})
	require.NoError(t, err)

	snapshots, err := q.ListWaiting(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 2, snapshots[0].Job.MaxAttempts)
	assert.Equal(t, time.Second, snapshots[0].Job.BaseDelay)
}
