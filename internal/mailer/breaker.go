package mailer

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"matchbreak/internal/types"
)

// BreakerTransport wraps a Transport with a circuit breaker so a provider
// outage sheds load fast instead of burning every worker slot on doomed
// dials. An open breaker surfaces as an upstream error that the classifier
// treats as transient, so the queue's backoff paces the probing.
type BreakerTransport struct {
	inner   Transport
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreakerTransport wraps inner with a named circuit breaker.
func NewBreakerTransport(inner Transport, name string) *BreakerTransport {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &BreakerTransport{inner: inner, breaker: cb}
}

// Send executes the delivery through the breaker.
func (t *BreakerTransport) Send(ctx context.Context, input types.SendInput) (string, error) {
	msgID, err := t.breaker.Execute(func() (string, error) {
		return t.inner.Send(ctx, input)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return "", types.NewAppError(
			types.ErrCodeUpstreamMail,
			"mail provider circuit open: connection refused by breaker",
			err,
		)
	}
	return msgID, err
}

// Compile-time assertion that BreakerTransport implements Transport.
var _ Transport = (*BreakerTransport)(nil)
