// Package booking provides read and status-update access to booking
// records. The email pipeline is a consumer of bookings, not their owner:
// it reads snapshots for rendering and for the execution-time status gate,
// and flips status to confirmed when a payment webhook lands.
package booking

import (
	"context"

	"matchbreak/internal/types"
)

// Store reads booking snapshots.
type Store interface {
	// FindByID returns the booking snapshot, or (nil, nil) when no such
	// booking exists. Absence is an expected condition for the worker's
	// status gate, not an error.
	FindByID(ctx context.Context, id string) (*types.Booking, error)
}

// StatusUpdater transitions a booking's lifecycle status.
type StatusUpdater interface {
	// UpdateStatus sets the booking's status. It returns a not-found
	// error when the booking does not exist.
	UpdateStatus(ctx context.Context, id string, status types.BookingStatus) error
}
