// Package dedupe implements the duplicate-send guard for booking
// confirmations. The guard is a check-and-set marker keyed by booking id:
// the first caller wins the right to send, every later caller is told the
// confirmation already went out.
//
// The guard fails open. If the backing store is unreachable the caller
// proceeds with the send; a duplicate email costs goodwill, a missing
// confirmation costs a booking.
package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMarkerTTL bounds how long a sent marker lives. After the window
// a re-trigger would send again, which is acceptable for a booking flow
// where webhooks do not replay weeks later.
const DefaultMarkerTTL = 7 * 24 * time.Hour

// Guard decides whether a confirmation for a booking may be sent.
type Guard interface {
	// CheckAndMarkSent atomically tests and sets the sent marker for the
	// booking. It returns true when the caller should proceed with the
	// send (marker was absent, or the store failed), false when a
	// confirmation was already sent.
	CheckAndMarkSent(ctx context.Context, bookingID string) bool

	// ResetSentStatus clears the marker so a confirmation can be re-sent.
	// Admin/support surface only.
	ResetSentStatus(ctx context.Context, bookingID string) error
}

// RedisGuard stores sent markers as SETNX keys with a TTL.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisGuard creates a guard over the given Redis client. A zero ttl
// falls back to DefaultMarkerTTL.
func NewRedisGuard(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultMarkerTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisGuard{client: client, ttl: ttl, log: log}
}

func markerKey(bookingID string) string {
	return "email:sent:" + bookingID
}

// CheckAndMarkSent sets the marker with SET NX. The set and the check are
// one atomic operation, so two concurrent triggers for the same booking
// cannot both win.
func (g *RedisGuard) CheckAndMarkSent(ctx context.Context, bookingID string) bool {
	ok, err := g.client.SetNX(ctx, markerKey(bookingID), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		// Fail open: better a rare duplicate than a silently dropped
		// confirmation.
		g.log.WarnContext(ctx, "dedupe guard unavailable, proceeding with send",
			"booking_id", bookingID,
			"error", err,
		)
		return true
	}
	if !ok {
		g.log.InfoContext(ctx, "confirmation already sent, skipping",
			"booking_id", bookingID,
		)
	}
	return ok
}

// ResetSentStatus deletes the marker.
func (g *RedisGuard) ResetSentStatus(ctx context.Context, bookingID string) error {
	return g.client.Del(ctx, markerKey(bookingID)).Err()
}

// Compile-time assertion that RedisGuard implements Guard.
var _ Guard = (*RedisGuard)(nil)
