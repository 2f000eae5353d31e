package session

import (
	"errors"
	"testing"

	"videos2pdf/internal/scanerr"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateRecording, true},
		{StateIdle, StateImporting, true},
		{StateIdle, StateTrim, false},
		{StateImporting, StateReviewSource, true},
		{StateReviewSource, StateTrim, true},
		{StateTrim, StateAutoDetect, true},
		{StateTrim, StateManualPick, true},
		{StateTrim, StateProcessing, false},
		{StateAutoDetect, StateManualPick, false},
		{StateManualPick, StatePageReview, true},
		{StatePageReview, StateAutoDetect, true},
		{StateProcessing, StateExportSetup, true},
		{StateExportSetup, StateExported, true},
		{StateExportSetup, StateTrim, false},
		{StateExported, StateDiscarded, false},
		{StateDiscarded, StateDiscarded, false},
		{StateRecording, StateDiscarded, true},
		{StateExportSetup, StateDiscarded, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestEveryLiveStateCanDiscard(t *testing.T) {
	for from := range transitions {
		if !CanTransition(from, StateDiscarded) {
			t.Fatalf("%s cannot be discarded", from)
		}
	}
}

func TestInvalidTransitionIsInvariantViolation(t *testing.T) {
	err := invalidTransition("capture", StateTrim, StateManualPick)
	if !errors.Is(err, scanerr.ErrSessionInvariant) || !scanerr.Fatal(err) {
		t.Fatalf("expected fatal invariant error, got %v", err)
	}
	err = invalidTransition("capture", StateDiscarded)
	if !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected invariant error for discarded session, got %v", err)
	}
}

func TestHubLatestWins(t *testing.T) {
	h := newHub()
	ch, stop := h.subscribe(Snapshot{Version: 1})
	defer stop()
	h.publish(Snapshot{Version: 2})
	h.publish(Snapshot{Version: 3})

	snap := <-ch
	if snap.Version != 3 {
		t.Fatalf("expected latest snapshot, got version %d", snap.Version)
	}
	h.publish(Snapshot{Version: 4})
	h.close()
	snap, ok := <-ch
	if !ok || snap.Version != 4 {
		t.Fatalf("expected final snapshot before close, got %v %v", snap.Version, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed")
	}
}
