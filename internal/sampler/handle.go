package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/scanerr"
)

// ErrClosed is returned for requests against a closed handle.
var ErrClosed = scanerr.Wrap(scanerr.ErrSessionInvariant, "sampler", "frame", "video handle closed", nil)

type request struct {
	ctx   context.Context
	ms    int64
	reply chan response
}

type response struct {
	frame *imaging.Buffer
	err   error
}

// Handle is an open video. Every decode request is a message into a
// single-worker queue, so callers on different goroutines (scrubbing, manual
// capture, detection) never touch the decoder concurrently. Independent
// handles decode in parallel.
type Handle struct {
	path       string
	durationMS int64
	decoder    Decoder
	logger     *slog.Logger

	requests  chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open starts the decode worker for path. durationMS is used to clamp
// requests to the playable range.
func Open(path string, durationMS int64, decoder Decoder, logger *slog.Logger) (*Handle, error) {
	if path == "" {
		return nil, errors.New("sampler: empty video path")
	}
	if decoder == nil {
		return nil, errors.New("sampler: decoder required")
	}
	if durationMS <= 0 {
		return nil, scanerr.Wrap(scanerr.ErrDecode, "sampler", "open", "video has no playable duration", nil)
	}
	h := &Handle{
		path:       path,
		durationMS: durationMS,
		decoder:    decoder,
		logger:     logging.NewComponentLogger(logger, "sampler"),
		requests:   make(chan request),
		done:       make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h, nil
}

// DurationMS returns the playable duration in milliseconds.
func (h *Handle) DurationMS() int64 { return h.durationMS }

// Frame returns the nearest decodable frame at ms. Failures are *DecodeError.
func (h *Handle) Frame(ctx context.Context, ms int64) (*imaging.Buffer, error) {
	req := request{ctx: ctx, ms: h.clamp(ms), reply: make(chan response, 1)}
	select {
	case <-h.done:
		return nil, ErrClosed
	default:
	}
	select {
	case h.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
	select {
	case resp := <-req.reply:
		return resp.frame, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker after the in-flight request finishes. It is idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
}

func (h *Handle) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case req := <-h.requests:
			req.reply <- h.decode(req)
		}
	}
}

func (h *Handle) decode(req request) response {
	if err := req.ctx.Err(); err != nil {
		return response{err: err}
	}
	frame, err := h.decoder.DecodeFrame(req.ctx, h.path, req.ms)
	if err != nil {
		if ctxErr := req.ctx.Err(); ctxErr != nil {
			return response{err: ctxErr}
		}
		if errors.Is(err, scanerr.ErrExternalTool) {
			return response{err: err}
		}
		h.logger.Debug("frame decode failed",
			logging.Int64("timestamp_ms", req.ms),
			logging.Error(err),
		)
		return response{err: &DecodeError{Path: h.path, TimestampMS: req.ms, Err: err}}
	}
	if frame == nil {
		return response{err: &DecodeError{Path: h.path, TimestampMS: req.ms, Err: errors.New("empty frame")}}
	}
	return response{frame: frame}
}

// clamp keeps ms inside [0, duration). The last millisecond is excluded
// because seeking exactly to the end yields no frame.
func (h *Handle) clamp(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms >= h.durationMS {
		return h.durationMS - 1
	}
	return ms
}
