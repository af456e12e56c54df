// Package mailq implements the durable transactional email queue: the job
// model, the store contract with its Redis and in-memory implementations,
// the queue runtime (validation, retry scheduling, retention, stats), the
// transient-error classifier, and the producer surface application code
// enqueues through.
//
// Producers and the worker process never share memory; they communicate
// exclusively through a QueueStore.
package mailq

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchbreak/internal/types"
)

// EmailType groups jobs by their logical purpose. The type doubles as the
// queue-internal job name for observability.
type EmailType string

const (
	TypeBooking           EmailType = "booking"
	TypeContact           EmailType = "contact"
	TypeAdminNotification EmailType = "admin_notification"
)

// valid reports whether t is one of the known email types.
func (t EmailType) valid() bool {
	switch t {
	case TypeBooking, TypeContact, TypeAdminNotification:
		return true
	}
	return false
}

// JobState is the queue-internal lifecycle state of a job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateDelayed   JobState = "delayed"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Default retry parameters applied at enqueue time when the caller does not
// override them. The backoff ladder is baseDelay * 2^(attempt-1):
// 5s, 10s, 20s, 40s, 80s.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 5 * time.Second
)

// QueuedEmail is the producer-facing enqueue input. It carries the fully
// rendered message plus the correlation fields the worker needs for
// conditional delivery.
type QueuedEmail struct {
	To      string    `json:"to"`
	From    string    `json:"from,omitempty"`
	ReplyTo string    `json:"replyTo,omitempty"`
	Subject string    `json:"subject"`
	HTML    string    `json:"html,omitempty"`
	Text    string    `json:"text"`
	Type    EmailType `json:"type"`

	// BookingID correlates the job to a booking entity. Required when
	// RequiresStatusCheck is set.
	BookingID string `json:"bookingId,omitempty"`

	// RequiresStatusCheck makes the worker re-validate the booking is
	// still confirmed at execution time before sending.
	RequiresStatusCheck bool `json:"requiresStatusCheck,omitempty"`

	// Template, when set, tells the worker to re-render the message from
	// the live booking at execution time instead of sending the enqueued
	// body. Long-delayed jobs use this so content reflects the booking as
	// it is when the job runs, not as it was weeks earlier.
	Template string `json:"template,omitempty"`
}

// TemplateReveal re-renders the destination reveal email at execution time.
const TemplateReveal = "reveal"

// Validate rejects inputs that must never enter the queue. Validation
// failures surface synchronously to the producer.
func (e *QueuedEmail) Validate() error {
	if strings.TrimSpace(e.To) == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "recipient address is required", nil)
	}
	if _, err := mail.ParseAddress(e.To); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEmail, "recipient address is not a valid email", err)
	}
	if strings.TrimSpace(e.Subject) == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "subject is required", nil)
	}
	if strings.TrimSpace(e.Text) == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "plain-text body is required", nil)
	}
	if !e.Type.valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidType, "unknown email type", nil)
	}
	if e.RequiresStatusCheck && strings.TrimSpace(e.BookingID) == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "bookingId is required when requiresStatusCheck is set", nil)
	}
	if e.Template != "" && e.Template != TemplateReveal {
		return types.NewAppError(types.ErrCodeValidationInvalidType, "unknown email template", nil)
	}
	if e.Template != "" && strings.TrimSpace(e.BookingID) == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "bookingId is required for re-rendered templates", nil)
	}
	return nil
}

// EmailJob is one unit of queued work representing a single email to send.
// It is owned exclusively by the queue for the duration of its life; the
// worker holds only a transient reference while processing under a lease.
type EmailJob struct {
	ID      string    `json:"id"`
	Type    EmailType `json:"type"`
	To      string    `json:"to"`
	From    string    `json:"from,omitempty"`
	ReplyTo string    `json:"reply_to,omitempty"`
	Subject string    `json:"subject"`
	HTML    string    `json:"html,omitempty"`
	Text    string    `json:"text"`

	BookingID           string `json:"booking_id,omitempty"`
	RequiresStatusCheck bool   `json:"requires_status_check,omitempty"`
	Template            string `json:"template,omitempty"`

	// Attempts counts executions started. The store increments it when a
	// worker takes the lease, so after the k-th dequeue Attempts == k.
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`

	// LastError records why the most recent execution was rescheduled, so
	// a waiting retry is diagnosable before it runs again.
	LastError string `json:"last_error,omitempty"`

	// RunAt is the earliest time the job becomes visible to workers.
	RunAt     time.Time `json:"run_at"`
	CreatedAt time.Time `json:"created_at"`
}

// newJob builds an EmailJob from validated producer input, applying enqueue
// defaults and the optional initial delay.
func newJob(input QueuedEmail, delay time.Duration, maxAttempts int, baseDelay time.Duration, now time.Time) *EmailJob {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	runAt := now
	if delay > 0 {
		runAt = now.Add(delay)
	}
	return &EmailJob{
		ID:                  uuid.New().String(),
		Type:                input.Type,
		To:                  input.To,
		From:                input.From,
		ReplyTo:             input.ReplyTo,
		Subject:             input.Subject,
		HTML:                input.HTML,
		Text:                input.Text,
		BookingID:           input.BookingID,
		RequiresStatusCheck: input.RequiresStatusCheck,
		Template:            input.Template,
		MaxAttempts:         maxAttempts,
		BaseDelay:           baseDelay,
		RunAt:               runAt.UTC(),
		CreatedAt:           now.UTC(),
	}
}

// NextBackoff returns the delay before the next execution after the given
// attempt count: baseDelay * 2^(attempts-1).
func (j *EmailJob) NextBackoff() time.Duration {
	base := j.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	shift := j.Attempts - 1
	if shift < 0 {
		shift = 0
	}
	backoff := base
	for i := 0; i < shift; i++ {
		backoff *= 2
	}
	return backoff
}

// SendInput maps the job to the transport-level message.
func (j *EmailJob) SendInput() types.SendInput {
	return types.SendInput{
		To:          j.To,
		From:        j.From,
		ReplyTo:     j.ReplyTo,
		Subject:     j.Subject,
		HTML:        j.HTML,
		Text:        j.Text,
		ReferenceID: j.ID,
	}
}

// clone returns a deep copy so store internals never alias caller memory.
func (j *EmailJob) clone() *EmailJob {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}
