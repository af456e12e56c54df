// Package types holds the domain entities and error taxonomy shared across
// the Matchbreak email pipeline: booking snapshots consumed by the status
// gate, the wire-level send input handed to mail transports, and the
// AppError type used everywhere.
package types

import "time"

// BookingStatus is the lifecycle state of a booking as persisted by the
// booking service. The email pipeline only reads it; the single value it
// cares about is BookingConfirmed, which gates conditional sends.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Booking is a read-only snapshot of a booking at the moment a worker
// executes a job. Only the fields the pipeline needs are carried; the full
// booking document (travellers, pricing, preferences) stays with the
// booking service.
type Booking struct {
	ID            string
	Status        BookingStatus
	CustomerName  string
	CustomerEmail string
	PackageName   string
	Destination   string
	EventName     string
	DepartureDate time.Time
	TotalAmount   int64 // cents
	Currency      string
	CreatedAt     time.Time
}

// Departed reports whether the booking's departure date has passed at t.
func (b *Booking) Departed(t time.Time) bool {
	return !b.DepartureDate.IsZero() && b.DepartureDate.Before(t)
}

// SendInput is the transport-level message handed to a mail provider.
// It is already fully rendered; transports never touch templates.
type SendInput struct {
	To      string
	From    string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	// ReferenceID correlates the provider send with the originating job
	// for delivery feedback and log tracing.
	ReferenceID string
}

// RenderedEmail is the output of the content renderer: a subject line plus
// HTML body and plain-text fallback.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}
