package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/types"
)

type failingTransport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *failingTransport) Send(context.Context, types.SendInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "ok-1", nil
}

func (f *failingTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &failingTransport{}
	bt := NewBreakerTransport(inner, "test")

	id, err := bt.Send(context.Background(), types.SendInput{To: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ok-1", id)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingTransport{err: errors.New("dial tcp: i/o timeout")}
	bt := NewBreakerTransport(inner, "test")

	// Burn through the failure threshold.
	for i := 0; i < 6; i++ {
		_, err := bt.Send(context.Background(), types.SendInput{To: "a@example.com"})
		require.Error(t, err)
	}
	callsBeforeOpen := inner.callCount()

	// The breaker is open now: requests are shed without touching SMTP.
	_, err := bt.Send(context.Background(), types.SendInput{To: "a@example.com"})
	require.Error(t, err)
	assert.Equal(t, callsBeforeOpen, inner.callCount(), "open breaker must not dial")

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamMail, appErr.Code)
	// The open-circuit error reads as a connection failure so the queue's
	// classifier schedules a retry instead of failing the job.
	assert.Contains(t, appErr.Message, "connection refused")
}
