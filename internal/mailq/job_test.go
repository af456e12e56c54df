package mailq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbreak/internal/types"
)

func validInput() QueuedEmail {
	return QueuedEmail{
		To:      "customer@example.com",
		Subject: "Your booking",
		Text:    "Hello",
		Type:    TypeBooking,
	}
}

func TestQueuedEmailValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*QueuedEmail)
		wantCode types.ErrorCode
	}{
		{
			name:   "valid input",
			mutate: func(e *QueuedEmail) {},
		},
		{
			name:     "missing recipient",
			mutate:   func(e *QueuedEmail) { e.To = "  " },
			wantCode: types.ErrCodeValidationMissingField,
		},
		{
			name:     "malformed recipient",
			mutate:   func(e *QueuedEmail) { e.To = "not-an-address" },
			wantCode: types.ErrCodeValidationInvalidEmail,
		},
		{
			name:     "missing subject",
			mutate:   func(e *QueuedEmail) { e.Subject = "" },
			wantCode: types.ErrCodeValidationMissingField,
		},
		{
			name:     "missing text body",
			mutate:   func(e *QueuedEmail) { e.Text = "" },
			wantCode: types.ErrCodeValidationMissingField,
		},
		{
			name:     "unknown type",
			mutate:   func(e *QueuedEmail) { e.Type = "newsletter" },
			wantCode: types.ErrCodeValidationInvalidType,
		},
		{
			name: "status check without booking id",
			mutate: func(e *QueuedEmail) {
				e.RequiresStatusCheck = true
			},
			wantCode: types.ErrCodeValidationMissingField,
		},
		{
			name: "unknown template",
			mutate: func(e *QueuedEmail) {
				e.Template = "newsletter"
				e.BookingID = "bk_1"
			},
			wantCode: types.ErrCodeValidationInvalidType,
		},
		{
			name: "template without booking id",
			mutate: func(e *QueuedEmail) {
				e.Template = TemplateReveal
			},
			wantCode: types.ErrCodeValidationMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput()
			tt.mutate(&input)
			err := input.Validate()
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestNewJobDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := newJob(validInput(), 0, 0, 0, now)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, job.BaseDelay)
	assert.Equal(t, now, job.RunAt)
	assert.Zero(t, job.Attempts)
}

func TestNewJobDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := newJob(validInput(), 30*time.Minute, 3, time.Second, now)

	assert.Equal(t, now.Add(30*time.Minute), job.RunAt)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, time.Second, job.BaseDelay)
}

// The backoff ladder doubles per attempt: 5s, 10s, 20s, 40s, 80s with the
// default base delay.
func TestNextBackoffLadder(t *testing.T) {
	job := &EmailJob{BaseDelay: 5 * time.Second}

	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}
	for attempt := 1; attempt <= len(want); attempt++ {
		job.Attempts = attempt
		assert.Equal(t, want[attempt-1], job.NextBackoff(), "attempt %d", attempt)
	}
}

func TestNextBackoffZeroAttempts(t *testing.T) {
	job := &EmailJob{BaseDelay: time.Second}
	assert.Equal(t, time.Second, job.NextBackoff())
}

func TestSendInputCarriesJobID(t *testing.T) {
	job := newJob(validInput(), 0, 0, 0, time.Now())
	input := job.SendInput()
	assert.Equal(t, job.ID, input.ReferenceID)
	assert.Equal(t, job.To, input.To)
	assert.Equal(t, job.Subject, input.Subject)
}
