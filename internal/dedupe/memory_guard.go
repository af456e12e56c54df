package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is an in-process Guard for local mode and tests. Markers
// expire lazily on the next check.
type MemoryGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers map[string]time.Time // booking id -> expiry
	now     func() time.Time
}

// NewMemoryGuard creates an in-memory guard. A zero ttl falls back to
// DefaultMarkerTTL.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	return &MemoryGuard{
		ttl:     ttl,
		markers: make(map[string]time.Time),
		now:     time.Now,
	}
}

// CheckAndMarkSent reports whether the caller should send, marking the
// booking on first sight.
func (g *MemoryGuard) CheckAndMarkSent(_ context.Context, bookingID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiry, ok := g.markers[bookingID]; ok && expiry.After(now) {
		return false
	}
	g.markers[bookingID] = now.Add(g.ttl)
	return true
}

// ResetSentStatus clears the marker.
func (g *MemoryGuard) ResetSentStatus(_ context.Context, bookingID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.markers, bookingID)
	return nil
}

// Compile-time assertion that MemoryGuard implements Guard.
var _ Guard = (*MemoryGuard)(nil)
