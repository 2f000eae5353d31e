package scanerr

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("moov atom not found")
	err := Wrap(ErrDecode, "sampler", "frame", "at 1500ms", cause)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "sampler: frame: at 1500ms") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWrapDefaultsDetail(t *testing.T) {
	err := Wrap(nil, " ", "", "", nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("nil marker should default to validation, got %v", err)
	}
	if !strings.Contains(err.Error(), "pipeline failure") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		fatal     bool
		kind      string
	}{
		{Wrap(ErrDecode, "", "", "x", nil), true, false, "decode"},
		{Wrap(ErrExport, "", "", "x", nil), true, false, "export"},
		{Wrap(ErrLowStorage, "", "", "x", nil), true, false, "low_storage"},
		{Wrap(ErrSessionInvariant, "", "", "x", nil), false, true, "session_invariant"},
		{Wrap(ErrValidation, "", "", "x", nil), false, false, "validation"},
		{errors.New("other"), false, false, "unknown"},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.retryable {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
		if got := Fatal(tt.err); got != tt.fatal {
			t.Errorf("Fatal(%v) = %v, want %v", tt.err, got, tt.fatal)
		}
		if got := Kind(tt.err); got != tt.kind {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}
}
