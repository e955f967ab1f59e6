package utils

import (
	"errors"
	"testing"
)

func TestAppErrorFormats(t *testing.T) {
	err := NewAppError("tracker.start", "already running", nil)
	if got := err.Error(); got != "tracker.start: already running" {
		t.Fatalf("message = %q", got)
	}

	wrapped := NewAppError("repo.diff", "request failed", errors.New("timeout"))
	if got := wrapped.Error(); got != "repo.diff: request failed: timeout" {
		t.Fatalf("message = %q", got)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NewAppError("tracker.lookup", "deployment missing", ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("wrapped sentinel must survive errors.Is")
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As must recover the AppError")
	}
	if appErr.Op != "tracker.lookup" {
		t.Fatalf("op = %q", appErr.Op)
	}
}
