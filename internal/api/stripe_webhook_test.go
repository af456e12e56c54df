package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/booking"
	"matchbreak/internal/types"
)

type stubVerifier struct {
	err error
}

func (v *stubVerifier) Verify(payload []byte, header string, secret string) error {
	return v.err
}

type recordingSender struct {
	confirmErr error
	confirmed  []string
	scheduled  []string
}

func (s *recordingSender) SendBookingConfirmation(_ context.Context, b *types.Booking) error {
	if s.confirmErr != nil {
		return s.confirmErr
	}
	s.confirmed = append(s.confirmed, b.ID)
	return nil
}

func (s *recordingSender) ScheduleRevealEmail(_ context.Context, b *types.Booking) (string, error) {
	s.scheduled = append(s.scheduled, b.ID)
	return "job-1", nil
}

func webhookFixture(t *testing.T, verifier WebhookVerifier, sender *recordingSender) (*StripeWebhookHandler, *booking.MemoryStore) {
	t.Helper()
	store := booking.NewMemoryStore()
	h := NewStripeWebhookHandler(verifier, store, store, sender, "whsec_test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, store
}

func postWebhook(h *StripeWebhookHandler, body string, withSig bool) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	if withSig {
		req.Header.Set("Stripe-Signature", "t=123,v1=abc")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const checkoutCompletedBody = `{
	"id": "evt_1",
	"type": "checkout.session.completed",
	"data": {"object": {"client_reference_id": "bk_1", "metadata": {}}}
}`

func pendingBooking(id string) *types.Booking {
	return &types.Booking{
		ID:            id,
		Status:        types.BookingPending,
		CustomerName:  "Alex",
		CustomerEmail: "alex@example.com",
		DepartureDate: time.Now().Add(30 * 24 * time.Hour),
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	sender := &recordingSender{}
	h, _ := webhookFixture(t, &stubVerifier{}, sender)

	w := postWebhook(h, checkoutCompletedBody, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sender.confirmed)
}

func TestWebhookInvalidSignature(t *testing.T) {
	sender := &recordingSender{}
	h, _ := webhookFixture(t, &stubVerifier{err: errors.New("signature mismatch")}, sender)

	w := postWebhook(h, checkoutCompletedBody, true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sender.confirmed)
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	sender := &recordingSender{}
	h, store := webhookFixture(t, &stubVerifier{}, sender)
	store.Put(pendingBooking("bk_1"))

	w := postWebhook(h, checkoutCompletedBody, true)
	require.Equal(t, http.StatusOK, w.Code)

	b, err := store.FindByID(context.Background(), "bk_1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, types.BookingConfirmed, b.Status)

	assert.Equal(t, []string{"bk_1"}, sender.confirmed)
	assert.Equal(t, []string{"bk_1"}, sender.scheduled)
}

// A Stripe replay must be acknowledged without sending a second
// confirmation or scheduling a second reveal.
func TestWebhookCheckoutCompletedReplay(t *testing.T) {
	sender := &recordingSender{confirmErr: types.NewAppError(
		types.ErrCodeConflictAlreadySent, "confirmation already sent for this booking", nil,
	)}
	h, store := webhookFixture(t, &stubVerifier{}, sender)
	store.Put(pendingBooking("bk_1"))

	w := postWebhook(h, checkoutCompletedBody, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sender.scheduled, "duplicate event must not reschedule the reveal")
}

// Processing failures after a verified signature still return 200 so
// Stripe does not retry into the same failure forever.
func TestWebhookUnknownBookingStillAcknowledged(t *testing.T) {
	sender := &recordingSender{}
	h, _ := webhookFixture(t, &stubVerifier{}, sender)

	w := postWebhook(h, checkoutCompletedBody, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sender.confirmed)
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	sender := &recordingSender{}
	h, _ := webhookFixture(t, &stubVerifier{}, sender)

	body := `{"id": "evt_2", "type": "invoice.paid", "data": {"object": {}}}`
	w := postWebhook(h, body, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sender.confirmed)
}

func TestWebhookPaymentFailedCancelsBooking(t *testing.T) {
	sender := &recordingSender{}
	h, store := webhookFixture(t, &stubVerifier{}, sender)
	store.Put(pendingBooking("bk_1"))

	body := `{
		"id": "evt_3",
		"type": "checkout.session.async_payment_failed",
		"data": {"object": {"client_reference_id": "bk_1"}}
	}`
	w := postWebhook(h, body, true)
	require.Equal(t, http.StatusOK, w.Code)

	b, err := store.FindByID(context.Background(), "bk_1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, types.BookingCancelled, b.Status)
	assert.Empty(t, sender.confirmed)
}

func TestExtractBookingIDMetadataFallback(t *testing.T) {
	event := stripeWebhookEvent{
		Type: eventCheckoutCompleted,
		Data: []byte(`{"object": {"client_reference_id": "", "metadata": {"booking_id": "bk_9"}}}`),
	}
	assert.Equal(t, "bk_9", event.extractBookingID())
}
