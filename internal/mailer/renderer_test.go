package mailer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/types"
)

func rendererBooking() *types.Booking {
	return &types.Booking{
		ID:            "bk_7",
		Status:        types.BookingConfirmed,
		CustomerName:  "Robin",
		CustomerEmail: "robin@example.com",
		PackageName:   "Silver",
		Destination:   "Sevilla",
		EventName:     "Sevilla FC vs Real Betis",
		DepartureDate: time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC),
		TotalAmount:   45950,
		Currency:      "EUR",
	}
}

func TestRenderConfirmationKeepsDestinationSecret(t *testing.T) {
	r, err := NewBookingRenderer("https://matchbreak.example")
	require.NoError(t, err)

	out, err := r.RenderConfirmation(rendererBooking())
	require.NoError(t, err)

	assert.Contains(t, out.Subject, "bk_7")
	for _, body := range []string{out.HTML, out.Text} {
		assert.Contains(t, body, "Robin")
		assert.Contains(t, body, "Silver")
		assert.Contains(t, body, "459.50 EUR")
		// The whole product is the surprise; the confirmation must not
		// leak where the trip goes.
		assert.NotContains(t, body, "Sevilla")
	}
	assert.Contains(t, out.HTML, "https://matchbreak.example/bookings/bk_7")
}

func TestRenderRevealDisclosesDestination(t *testing.T) {
	r, err := NewBookingRenderer("https://matchbreak.example")
	require.NoError(t, err)

	out, err := r.RenderReveal(rendererBooking())
	require.NoError(t, err)

	assert.Contains(t, out.HTML, "Sevilla")
	assert.Contains(t, out.Text, "Sevilla FC vs Real Betis")
	assert.Contains(t, out.Text, "Saturday, 3 October 2026")
}

func TestRenderAdminNotification(t *testing.T) {
	r, err := NewBookingRenderer("https://matchbreak.example")
	require.NoError(t, err)

	out, err := r.RenderAdminNotification(rendererBooking())
	require.NoError(t, err)

	assert.Contains(t, out.Subject, "bk_7")
	assert.Contains(t, out.Text, "Sevilla")
	assert.Contains(t, out.Text, "459.50 EUR")
	assert.Empty(t, out.HTML, "admin notices are plain text")
}

func TestRenderConfirmationEscapesHTML(t *testing.T) {
	r, err := NewBookingRenderer("https://matchbreak.example")
	require.NoError(t, err)

	b := rendererBooking()
	b.CustomerName = `<script>alert("x")</script>`
	out, err := r.RenderConfirmation(b)
	require.NoError(t, err)

	assert.False(t, strings.Contains(out.HTML, "<script>"), "html output must escape user content")
}

func TestRevealDelay(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	lead := 48 * time.Hour

	tests := []struct {
		name      string
		departure time.Time
		want      time.Duration
	}{
		{"far out", now.Add(10 * 24 * time.Hour), 8 * 24 * time.Hour},
		{"inside lead window", now.Add(24 * time.Hour), 0},
		{"already departed", now.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RevealDelay(tt.departure, lead, now))
		})
	}
}

func TestFormatAmountDefaultsCurrency(t *testing.T) {
	assert.Equal(t, "10.00 EUR", formatAmount(1000, ""))
	assert.Equal(t, "0.99 GBP", formatAmount(99, "GBP"))
}
