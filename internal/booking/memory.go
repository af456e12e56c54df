package booking

import (
	"context"
	"sync"

	"matchbreak/internal/types"
)

// MemoryStore is an in-process booking store for local mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]*types.Booking
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*types.Booking)}
}

// Put inserts or replaces a booking snapshot.
func (s *MemoryStore) Put(b *types.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bookings[b.ID] = &cp
}

// FindByID returns the booking snapshot, or (nil, nil) when absent.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*types.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

// UpdateStatus sets the booking's status.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status types.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundBooking, "booking not found", nil)
	}
	b.Status = status
	return nil
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ StatusUpdater = (*MemoryStore)(nil)
)
