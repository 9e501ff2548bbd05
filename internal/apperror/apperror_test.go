package apperror

import (
	"errors"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("user", "chai"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("user", "username or email already exists"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("invalid refresh token"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "Internal wraps ErrInternal",
			err:       Internal("upload failed", cause),
			target:    ErrInternal,
			wantMatch: true,
		},
		{
			name:      "Internal keeps the cause in the chain",
			err:       Internal("upload failed", cause),
			target:    cause,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("user", "chai"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Unauthorized does NOT match ErrNotFound",
			err:       Unauthorized("bad password"),
			target:    ErrNotFound,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and key",
			err:         NotFound("channel", "chai"),
			wantMessage: "channel not found: chai",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("avatar", "avatar file is required"),
			wantMessage: "avatar file is required",
		},
		{
			name:        "Conflict message includes resource",
			err:         Conflict("user", "username or email already exists"),
			wantMessage: "user: username or email already exists",
		},
		{
			name:        "Internal hides the cause",
			err:         Internal("something went wrong while registering the user", errors.New("sql: no rows")),
			wantMessage: "something went wrong while registering the user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestInternalWithoutCause(t *testing.T) {
	err := Internal("boom", nil)
	if err.Unwrap() != ErrInternal {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), ErrInternal)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("username", "username is required")

	if err.Field != "username" {
		t.Errorf("Field = %q, want %q", err.Field, "username")
	}
}
