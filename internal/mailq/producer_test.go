package mailq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/dedupe"
	"matchbreak/internal/types"
)

// fakeTransport records sends and returns a scripted error.
type fakeTransport struct {
	mu     sync.Mutex
	err    error
	inputs []types.SendInput
}

func (f *fakeTransport) Send(_ context.Context, input types.SendInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return "", f.err
	}
	return "fake-msg-1", nil
}

func (f *fakeTransport) sent() []types.SendInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.SendInput, len(f.inputs))
	copy(out, f.inputs)
	return out
}

// fakeRenderer returns canned content per template.
type fakeRenderer struct{}

func (fakeRenderer) RenderConfirmation(b *types.Booking) (types.RenderedEmail, error) {
	return types.RenderedEmail{Subject: "Confirmed " + b.ID, HTML: "<p>hi</p>", Text: "hi"}, nil
}

func (fakeRenderer) RenderAdminNotification(b *types.Booking) (types.RenderedEmail, error) {
	return types.RenderedEmail{Subject: "New booking " + b.ID, Text: "admin"}, nil
}

func (fakeRenderer) RenderReveal(b *types.Booking) (types.RenderedEmail, error) {
	return types.RenderedEmail{Subject: "Reveal", HTML: "<p>" + b.Destination + "</p>", Text: b.Destination}, nil
}

func testBooking() *types.Booking {
	return &types.Booking{
		ID:            "bk_100",
		Status:        types.BookingConfirmed,
		CustomerName:  "Alex",
		CustomerEmail: "alex@example.com",
		PackageName:   "Bronze",
		Destination:   "Lisbon",
		EventName:     "Benfica vs Porto",
		DepartureDate: time.Now().Add(30 * 24 * time.Hour),
		TotalAmount:   29900,
		Currency:      "EUR",
	}
}

func testProducer(t *testing.T, transport *fakeTransport) (*Producer, *Queue) {
	t.Helper()
	q := testQueue(t, Options{})
	p := NewProducer(q, dedupe.NewMemoryGuard(0), transport, fakeRenderer{}, ProducerConfig{
		AdminAddress:      "ops@example.com",
		RevealLeadTime:    48 * time.Hour,
		DirectSendTimeout: 30 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return p, q
}

func TestSendBookingConfirmationInline(t *testing.T) {
	transport := &fakeTransport{}
	p, q := testProducer(t, transport)

	require.NoError(t, p.SendBookingConfirmation(context.Background(), testBooking()))

	sent := transport.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alex@example.com", sent[0].To)
	assert.Equal(t, "Confirmed bk_100", sent[0].Subject)

	// Only the admin notification goes through the queue on the happy path.
	snapshots, err := q.ListWaiting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, TypeAdminNotification, snapshots[0].Job.Type)
	assert.Equal(t, "ops@example.com", snapshots[0].Job.To)
	assert.Equal(t, "alex@example.com", snapshots[0].Job.ReplyTo)
}

func TestSendBookingConfirmationIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	p, _ := testProducer(t, transport)
	b := testBooking()

	require.NoError(t, p.SendBookingConfirmation(context.Background(), b))

	err := p.SendBookingConfirmation(context.Background(), b)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictAlreadySent, appErr.Code)
	assert.Len(t, transport.sent(), 1, "second trigger must not send again")
}

func TestSendBookingConfirmationTransientFallsBackToQueue(t *testing.T) {
	transport := &fakeTransport{err: errors.New("dial tcp: connection refused")}
	p, q := testProducer(t, transport)

	require.NoError(t, p.SendBookingConfirmation(context.Background(), testBooking()))

	snapshots, err := q.ListWaiting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	var fallback *EmailJob
	for i := range snapshots {
		if snapshots[i].Job.Type == TypeBooking {
			fallback = &snapshots[i].Job
		}
	}
	require.NotNil(t, fallback, "transient inline failure must enqueue the confirmation")
	assert.Equal(t, "alex@example.com", fallback.To)
	assert.Equal(t, "bk_100", fallback.BookingID)
	assert.True(t, fallback.RequiresStatusCheck)
}

func TestSendBookingConfirmationPermanentErrorSurfaces(t *testing.T) {
	transport := &fakeTransport{err: errors.New("550 no such user")}
	p, q := testProducer(t, transport)

	err := p.SendBookingConfirmation(context.Background(), testBooking())
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamMail, appErr.Code)

	// No fallback job, no admin notification: the trigger failed loudly.
	snapshots, listErr := q.ListWaiting(context.Background(), 10)
	require.NoError(t, listErr)
	assert.Empty(t, snapshots)
	assert.Len(t, transport.sent(), 1, "permanent errors must not be retried inline")
}

func TestScheduleRevealEmail(t *testing.T) {
	transport := &fakeTransport{}
	p, q := testProducer(t, transport)
	b := testBooking()

	id, err := p.ScheduleRevealEmail(context.Background(), b)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snapshots, err := q.ListWaiting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	job := snapshots[0].Job
	assert.Equal(t, StateDelayed, snapshots[0].State)
	assert.Equal(t, TemplateReveal, job.Template)
	assert.True(t, job.RequiresStatusCheck)
	assert.Equal(t, "bk_100", job.BookingID)

	wantRunAt := b.DepartureDate.Add(-48 * time.Hour)
	assert.WithinDuration(t, wantRunAt, job.RunAt, 5*time.Second)
}

func TestScheduleRevealEmailNearDeparture(t *testing.T) {
	transport := &fakeTransport{}
	p, q := testProducer(t, transport)
	b := testBooking()
	b.DepartureDate = time.Now().Add(2 * time.Hour)

	_, err := p.ScheduleRevealEmail(context.Background(), b)
	require.NoError(t, err)

	// Departure is inside the lead window; the reveal is due immediately.
	snapshots, err := q.ListWaiting(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, StateWaiting, snapshots[0].State)
}

func TestAddToQueuePassthrough(t *testing.T) {
	transport := &fakeTransport{}
	p, q := testProducer(t, transport)

	id, err := p.AddToQueue(context.Background(), QueuedEmail{
		To:      "visitor@example.com",
		Subject: "Thanks for reaching out",
		Text:    "We received your message.",
		Type:    TypeContact,
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}
