package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82/webhook"

	"matchbreak/internal/booking"
	"matchbreak/internal/mailq"
	"matchbreak/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KB). Checkout events
// are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// Stripe event types the handler acts on.
const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventPaymentFailed     = "checkout.session.async_payment_failed"
)

// WebhookVerifier abstracts Stripe webhook signature checking so tests can
// substitute a stub.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier checks signatures with stripe-go's HMAC-SHA256
// verification, timestamp tolerance included.
type StripeVerifier struct{}

func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}

// ConfirmationSender is the producer surface the webhook needs.
type ConfirmationSender interface {
	SendBookingConfirmation(ctx context.Context, b *types.Booking) error
	ScheduleRevealEmail(ctx context.Context, b *types.Booking) (string, error)
}

// StripeWebhookHandler processes asynchronous payment events from Stripe.
// The endpoint is unauthenticated (Stripe calls it directly); security is
// the provider signature.
type StripeWebhookHandler struct {
	verifier WebhookVerifier
	bookings booking.Store
	updater  booking.StatusUpdater
	sender   ConfirmationSender
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler wires the webhook handler.
func NewStripeWebhookHandler(
	verifier WebhookVerifier,
	bookings booking.Store,
	updater booking.StatusUpdater,
	sender ConfirmationSender,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		bookings: bookings,
		updater:  updater,
		sender:   sender,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the admin
// routes because webhook routes carry no auth middleware.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies the signature, routes the event, and acknowledges with
// 200. Processing errors after a valid signature are logged but still
// acknowledged, otherwise Stripe retries into the same failure forever;
// the dedupe guard makes eventual replays harmless anyway.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case eventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)
	case eventPaymentFailed:
		return h.handlePaymentFailed(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type)
		return nil
	}
}

// handleCheckoutCompleted confirms the booking and kicks off the email
// flow: inline confirmation, admin notification, and the scheduled
// destination reveal.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	bookingID := event.extractBookingID()
	if bookingID == "" {
		return fmt.Errorf("checkout.session.completed: missing booking id in event %s", event.ID)
	}

	if err := h.updater.UpdateStatus(ctx, bookingID, types.BookingConfirmed); err != nil {
		return fmt.Errorf("confirm booking %s: %w", bookingID, err)
	}

	b, err := h.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if b == nil {
		return fmt.Errorf("booking %s vanished after confirmation", bookingID)
	}

	if err := h.sender.SendBookingConfirmation(ctx, b); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictAlreadySent {
			// Stripe replayed the event; the first delivery won.
			h.logger.InfoContext(ctx, "duplicate checkout event, confirmation already sent",
				"booking_id", bookingID,
				"event_id", event.ID,
			)
			return nil
		}
		return fmt.Errorf("send confirmation for booking %s: %w", bookingID, err)
	}

	if _, err := h.sender.ScheduleRevealEmail(ctx, b); err != nil {
		return fmt.Errorf("schedule reveal for booking %s: %w", bookingID, err)
	}
	return nil
}

// handlePaymentFailed marks the booking cancelled so any queued
// conditional emails skip at execution time.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent) error {
	bookingID := event.extractBookingID()
	if bookingID == "" {
		return fmt.Errorf("payment failed event %s: missing booking id", event.ID)
	}
	h.logger.WarnContext(ctx, "checkout payment failed", "booking_id", bookingID, "event_id", event.ID)
	return h.updater.UpdateStatus(ctx, bookingID, types.BookingCancelled)
}

// stripeWebhookEvent is a minimal view of a Stripe event carrying just the
// fields routing needs. The full stripe.Event type stays out of the
// handler to keep parsing explicit and tests simple.
type stripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// extractBookingID pulls the booking id from the checkout session, set by
// the storefront as client_reference_id with a metadata fallback.
func (e *stripeWebhookEvent) extractBookingID() string {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}
	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(data.Object, &session); err != nil {
		return ""
	}
	if session.ClientReferenceID != "" {
		return session.ClientReferenceID
	}
	return session.Metadata["booking_id"]
}

// Compile-time assertion that the producer satisfies the handler contract.
var _ ConfirmationSender = (*mailq.Producer)(nil)
