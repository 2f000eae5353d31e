package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"videos2pdf/internal/imaging"
	"videos2pdf/internal/scanerr"
)

// Decoder extracts a single frame from a video file. Implementations do not
// need to be safe for concurrent use; Handle serializes calls.
type Decoder interface {
	DecodeFrame(ctx context.Context, path string, ms int64) (*imaging.Buffer, error)
}

// DecodeError reports a source that is unreadable at a timestamp.
type DecodeError struct {
	Path        string
	TimestampMS int64
	Err         error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode frame at %dms", e.TimestampMS)
	}
	return fmt.Sprintf("decode frame at %dms: %v", e.TimestampMS, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, scanerr.ErrDecode) match every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == scanerr.ErrDecode }

// FFmpegDecoder decodes frames by running one ffmpeg process per request. The
// process seeks to the nearest keyframe-accurate position and pipes a single
// PNG frame back, so no decoder state survives between calls and scrubbing
// backwards is safe.
type FFmpegDecoder struct {
	Binary string
	// MaxEdge bounds the longer edge of returned frames; zero keeps the source size.
	MaxEdge int
}

// DecodeFrame implements Decoder.
func (d FFmpegDecoder) DecodeFrame(ctx context.Context, path string, ms int64) (*imaging.Buffer, error) {
	binary := strings.TrimSpace(d.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if ms < 0 {
		ms = 0
	}
	seconds := strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-hide_banner",
		"-ss", seconds,
		"-i", path,
		"-frames:v", "1",
		"-an",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, scanerr.Wrap(scanerr.ErrExternalTool, "sampler", "ffmpeg", "binary not runnable", err)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}
	frame, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, err
	}
	if d.MaxEdge > 0 {
		frame = frame.FitLongEdge(d.MaxEdge)
	}
	return frame, nil
}
