package sampler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/sampler"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/testsupport"
)

func openHandle(t *testing.T, dec sampler.Decoder, durationMS int64) *sampler.Handle {
	t.Helper()
	h, err := sampler.Open("/videos/pages.mp4", durationMS, dec, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func TestFrameReturnsScriptedImage(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{
		Frames: []*imaging.Buffer{testsupport.Page(0), testsupport.Blurred()},
		StepMS: 1000,
	}
	h := openHandle(t, dec, 2000)

	frame, err := h.Frame(context.Background(), 1500)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if frame != dec.Frames[1] {
		t.Fatalf("expected second scripted frame")
	}
}

func TestFrameClampsToDuration(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{Frames: []*imaging.Buffer{testsupport.Page(0)}, StepMS: 1000}
	h := openHandle(t, dec, 4000)

	for _, ms := range []int64{-50, 4000, 9000} {
		if _, err := h.Frame(context.Background(), ms); err != nil {
			t.Fatalf("Frame(%d): %v", ms, err)
		}
	}
	calls := dec.Calls()
	want := []int64{0, 3999, 3999}
	for i, ms := range want {
		if calls[i] != ms {
			t.Fatalf("call %d: got %dms want %dms", i, calls[i], ms)
		}
	}
}

func TestFrameFailureIsDecodeError(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{Frames: []*imaging.Buffer{nil}, StepMS: 1000}
	h := openHandle(t, dec, 1000)

	_, err := h.Frame(context.Background(), 200)
	var decodeErr *sampler.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.TimestampMS != 200 {
		t.Fatalf("timestamp = %d", decodeErr.TimestampMS)
	}
	if !errors.Is(err, scanerr.ErrDecode) {
		t.Fatalf("expected ErrDecode marker")
	}
	if !errors.Is(err, testsupport.ErrScriptedFailure) {
		t.Fatalf("expected cause to be preserved")
	}
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{
		Frames: []*imaging.Buffer{testsupport.Page(0)},
		StepMS: 1000,
		Delay:  2 * time.Millisecond,
	}
	h := openHandle(t, dec, 10000)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(ms int64) {
			defer wg.Done()
			if _, err := h.Frame(context.Background(), ms); err != nil {
				t.Errorf("Frame(%d): %v", ms, err)
			}
		}(int64(i * 500))
	}
	wg.Wait()

	if got := dec.MaxConcurrent(); got != 1 {
		t.Fatalf("decoder saw %d concurrent calls, want 1", got)
	}
	if got := len(dec.Calls()); got != 16 {
		t.Fatalf("decoder calls = %d, want 16", got)
	}
}

func TestBackwardScrubbing(t *testing.T) {
	frames := []*imaging.Buffer{testsupport.Page(0), testsupport.Page(1), testsupport.Page(2)}
	dec := &testsupport.ScriptedDecoder{Frames: frames, StepMS: 1000}
	h := openHandle(t, dec, 3000)

	for i := len(frames) - 1; i >= 0; i-- {
		frame, err := h.Frame(context.Background(), int64(i*1000))
		if err != nil {
			t.Fatalf("Frame: %v", err)
		}
		if frame != frames[i] {
			t.Fatalf("frame %d mismatch", i)
		}
	}
}

func TestFrameAfterCloseFails(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{Frames: []*imaging.Buffer{testsupport.Page(0)}, StepMS: 1000}
	h := openHandle(t, dec, 1000)
	h.Close()
	h.Close()

	_, err := h.Frame(context.Background(), 0)
	if !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected session invariant error, got %v", err)
	}
}

func TestFrameHonorsCancellation(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{
		Frames: []*imaging.Buffer{testsupport.Page(0)},
		StepMS: 1000,
		Delay:  time.Second,
	}
	h := openHandle(t, dec, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Frame(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOpenRejectsEmptyDuration(t *testing.T) {
	dec := &testsupport.ScriptedDecoder{}
	if _, err := sampler.Open("/videos/empty.mp4", 0, dec, logging.NewNop()); !errors.Is(err, scanerr.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
