package types

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidEmail, http.StatusBadRequest},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{ErrCodeNotFoundBooking, http.StatusNotFound},
		{ErrCodeConflictAlreadySent, http.StatusConflict},
		{ErrCodeUpstreamMail, http.StatusBadGateway},
		{ErrCodeInternalQueue, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewAppError(ErrCodeInternalDB, "db broke", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	var appErr *AppError
	if !errors.As(error(err), &appErr) {
		t.Fatal("expected errors.As to match *AppError")
	}
	if appErr.Code != ErrCodeInternalDB {
		t.Errorf("code = %s, want %s", appErr.Code, ErrCodeInternalDB)
	}
}

func TestAppErrorMessageOmitsCause(t *testing.T) {
	cause := errors.New("password=hunter2 rejected")
	err := NewAppError(ErrCodeInternalDB, "db broke", cause)

	want := "internal_database_error: db broke"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSecretStringRedaction(t *testing.T) {
	s := SecretString("super-secret")
	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q, want redacted", s.String())
	}
	text, err := s.MarshalText()
	if err != nil || string(text) != "[REDACTED]" {
		t.Errorf("MarshalText() = %q, %v", text, err)
	}
	if s.Reveal() != "super-secret" {
		t.Errorf("Reveal() = %q", s.Reveal())
	}
	if s.IsEmpty() {
		t.Error("IsEmpty() = true for non-empty secret")
	}
}
