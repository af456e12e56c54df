package mailq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"matchbreak/internal/dedupe"
	"matchbreak/internal/mailer"
	"matchbreak/internal/types"
)

// ProducerConfig holds addressing and scheduling defaults for the producer
// surface.
type ProducerConfig struct {
	// AdminAddress receives internal new-booking notifications.
	AdminAddress string

	// RevealLeadTime is how long before departure the destination reveal
	// becomes due.
	RevealLeadTime time.Duration

	// DirectSendTimeout bounds the inline confirmation send, retries
	// included. Past it the send falls back to the queue.
	DirectSendTimeout time.Duration
}

func (c *ProducerConfig) normalize() {
	if c.RevealLeadTime <= 0 {
		c.RevealLeadTime = 48 * time.Hour
	}
	if c.DirectSendTimeout <= 0 {
		c.DirectSendTimeout = 10 * time.Second
	}
}

// Producer is the application-facing email surface. It owns the dedupe
// guard, the inline confirmation send with its queue fallback, and reveal
// scheduling. All other callers enqueue through AddToQueue.
//
// The confirmation path is deliberately hybrid: the customer expects the
// email seconds after paying, so the producer tries an inline send first
// and only falls back to the queue when the provider is briefly down.
type Producer struct {
	queue     *Queue
	guard     dedupe.Guard
	transport mailer.Transport
	renderer  mailer.Renderer
	cfg       ProducerConfig
	log       *slog.Logger
}

// NewProducer wires the producer surface.
func NewProducer(queue *Queue, guard dedupe.Guard, transport mailer.Transport, renderer mailer.Renderer, cfg ProducerConfig, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	cfg.normalize()
	return &Producer{
		queue:     queue,
		guard:     guard,
		transport: transport,
		renderer:  renderer,
		cfg:       cfg,
		log:       log,
	}
}

// AddToQueue validates and enqueues an arbitrary email job. This is the
// generic producer entry point; it returns the job id once the job is
// durable.
func (p *Producer) AddToQueue(ctx context.Context, input QueuedEmail, opts *EnqueueOptions) (string, error) {
	return p.queue.Enqueue(ctx, input, opts)
}

// SendBookingConfirmation delivers the confirmation for a freshly paid
// booking and notifies the admin inbox. The dedupe guard makes the
// operation idempotent per booking: a second trigger returns a conflict
// error and sends nothing.
//
// Delivery is attempted inline with a short bounded retry. If the provider
// is transiently unavailable the message is handed to the queue instead,
// so the trigger never fails because of a mail outage. Permanent errors
// (bad address, rejected content) surface to the caller.
func (p *Producer) SendBookingConfirmation(ctx context.Context, b *types.Booking) error {
	if !p.guard.CheckAndMarkSent(ctx, b.ID) {
		return types.NewAppError(types.ErrCodeConflictAlreadySent, "confirmation already sent for this booking", nil)
	}
	// From here on the marker is set. If this process dies before the
	// send lands, the confirmation is lost until an operator resets the
	// marker; the admin notification below gives ops the signal to check.

	rendered, err := p.renderer.RenderConfirmation(b)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render booking confirmation", err)
	}

	sendErr := p.directSend(ctx, types.SendInput{
		To:          b.CustomerEmail,
		Subject:     rendered.Subject,
		HTML:        rendered.HTML,
		Text:        rendered.Text,
		ReferenceID: b.ID,
	})

	switch {
	case sendErr == nil:
		p.log.InfoContext(ctx, "booking confirmation sent inline", "booking_id", b.ID)
	case IsTransient(sendErr) || errors.Is(sendErr, context.DeadlineExceeded):
		// Queue fallback. The guard marker is already set, so if the
		// inline send actually landed despite the error the customer may
		// receive the email twice; a residual risk we accept over losing
		// the confirmation.
		p.log.WarnContext(ctx, "inline confirmation send failed, falling back to queue",
			"booking_id", b.ID,
			"error", sendErr,
		)
		if _, err := p.queue.Enqueue(ctx, QueuedEmail{
			To:                  b.CustomerEmail,
			Subject:             rendered.Subject,
			HTML:                rendered.HTML,
			Text:                rendered.Text,
			Type:                TypeBooking,
			BookingID:           b.ID,
			RequiresStatusCheck: true,
		}, nil); err != nil {
			return err
		}
	default:
		return types.NewAppError(types.ErrCodeUpstreamMail, "failed to send booking confirmation", sendErr)
	}

	p.enqueueAdminNotification(ctx, b)
	return nil
}

// directSend attempts the inline delivery with exponential backoff between
// attempts. Permanent errors abort the retry loop immediately.
func (p *Producer) directSend(ctx context.Context, input types.SendInput) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DirectSendTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = p.cfg.DirectSendTimeout

	return backoff.Retry(func() error {
		_, err := p.transport.Send(ctx, input)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

// enqueueAdminNotification queues the internal new-booking notice.
// Failures are logged, never surfaced: the customer flow must not break
// because the ops inbox is unreachable.
func (p *Producer) enqueueAdminNotification(ctx context.Context, b *types.Booking) {
	if p.cfg.AdminAddress == "" {
		return
	}
	rendered, err := p.renderer.RenderAdminNotification(b)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to render admin notification", "booking_id", b.ID, "error", err)
		return
	}
	if _, err := p.queue.Enqueue(ctx, QueuedEmail{
		To:        p.cfg.AdminAddress,
		ReplyTo:   b.CustomerEmail,
		Subject:   rendered.Subject,
		Text:      rendered.Text,
		Type:      TypeAdminNotification,
		BookingID: b.ID,
	}, nil); err != nil {
		p.log.ErrorContext(ctx, "failed to enqueue admin notification", "booking_id", b.ID, "error", err)
	}
}

// ScheduleRevealEmail enqueues the destination reveal so it becomes due
// RevealLeadTime before departure. The job is enqueued with a placeholder
// body; the worker re-renders from the live booking at execution time and
// skips silently if the booking is no longer confirmed by then.
func (p *Producer) ScheduleRevealEmail(ctx context.Context, b *types.Booking) (string, error) {
	delay := mailer.RevealDelay(b.DepartureDate, p.cfg.RevealLeadTime, time.Now())
	return p.queue.Enqueue(ctx, QueuedEmail{
		To:                  b.CustomerEmail,
		Subject:             "Your destination reveal",
		Text:                "placeholder, re-rendered at send time",
		Type:                TypeBooking,
		BookingID:           b.ID,
		RequiresStatusCheck: true,
		Template:            TemplateReveal,
	}, &EnqueueOptions{Delay: delay})
}
