// Package mailer holds the outbound mail transports and the booking email
// renderer. Transports deliver a single fully rendered message and return
// the provider message id; retry policy belongs to the queue and its error
// classifier, never to a transport.
package mailer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"matchbreak/internal/types"
)

// Transport delivers a single message, returning a provider message id or
// an error. Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// StubTransport logs the message instead of delivering it. Used in local
// mode when no SMTP credentials are configured, and as the default test
// double.
type StubTransport struct {
	log *slog.Logger
}

// NewStubTransport creates a logging stub transport.
func NewStubTransport(log *slog.Logger) *StubTransport {
	if log == nil {
		log = slog.Default()
	}
	return &StubTransport{log: log}
}

// Send logs the would-be delivery and returns a synthetic message id.
func (s *StubTransport) Send(ctx context.Context, input types.SendInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msgID := "stub-" + uuid.New().String()
	s.log.InfoContext(ctx, "stub transport: email suppressed",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
		"message_id", msgID,
	)
	return msgID, nil
}

// Compile-time assertion that StubTransport implements Transport.
var _ Transport = (*StubTransport)(nil)
