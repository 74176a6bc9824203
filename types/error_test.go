package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrPersistence, "store unavailable").
		WithCause(root).
		WithHTTPStatus(http.StatusBadGateway)

	if GetErrorCode(err) != ErrPersistence {
		t.Fatalf("expected code %s, got %s", ErrPersistence, GetErrorCode(err))
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := StatusFor(err); got != http.StatusBadGateway {
		t.Fatalf("expected explicit status to win, got %d", got)
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrAlreadyRunning, "loop already running")
	wrapped := fmt.Errorf("start: %w", inner)

	if !IsCode(wrapped, ErrAlreadyRunning) {
		t.Fatalf("expected wrapped error to carry %s", ErrAlreadyRunning)
	}
	if IsCode(errors.New("plain"), ErrAlreadyRunning) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrDuplicateHandler: http.StatusConflict,
		ErrHandlerNotFound:  http.StatusNotFound,
		ErrInvalidConfig:    http.StatusBadRequest,
		ErrPersistence:      http.StatusServiceUnavailable,
		ErrRateLimited:      http.StatusTooManyRequests,
		ErrInternalError:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(NewError(code, "x")); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
	if got := StatusFor(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("plain error: expected 500, got %d", got)
	}
}
