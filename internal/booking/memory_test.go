package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/types"
)

func TestMemoryStoreFindByIDAbsent(t *testing.T) {
	s := NewMemoryStore()

	b, err := s.FindByID(context.Background(), "bk_missing")
	require.NoError(t, err, "absence is not an error")
	assert.Nil(t, b)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&types.Booking{
		ID:            "bk_1",
		Status:        types.BookingPending,
		CustomerEmail: "alex@example.com",
		DepartureDate: time.Now().Add(24 * time.Hour),
	})

	b, err := s.FindByID(context.Background(), "bk_1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, types.BookingPending, b.Status)

	// The returned snapshot is a copy; mutating it must not leak back.
	b.Status = types.BookingCancelled
	again, err := s.FindByID(context.Background(), "bk_1")
	require.NoError(t, err)
	assert.Equal(t, types.BookingPending, again.Status)
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&types.Booking{ID: "bk_1", Status: types.BookingPending})

	require.NoError(t, s.UpdateStatus(context.Background(), "bk_1", types.BookingConfirmed))

	b, err := s.FindByID(context.Background(), "bk_1")
	require.NoError(t, err)
	assert.Equal(t, types.BookingConfirmed, b.Status)
}

func TestMemoryStoreUpdateStatusMissing(t *testing.T) {
	s := NewMemoryStore()

	err := s.UpdateStatus(context.Background(), "bk_missing", types.BookingConfirmed)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundBooking, appErr.Code)
}
