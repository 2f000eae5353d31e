package testsupport

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"videos2pdf/internal/imaging"
)

// Synthetic frame geometry. The width is a multiple of the default pixel
// stride so every sampled row covers the same columns.
const (
	FrameWidth  = 160
	FrameHeight = 120
	gridCells   = 8
)

// Page returns a sharp synthetic page. Textured cells of an 8x8 grid carry
// alternating black and white rows; the rest are white. Pages with different
// parity share no textured cell, so consecutive pages are never duplicates,
// and the band row makes each index distinct.
func Page(index int) *imaging.Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	cellW := FrameWidth / gridCells
	cellH := FrameHeight / gridCells
	band := index % gridCells
	for y := 0; y < FrameHeight; y++ {
		cy := y / cellH
		for x := 0; x < FrameWidth; x++ {
			cx := x / cellW
			textured := (cx+cy+index)%2 == 0
			if cy == band && cx < band {
				textured = !textured
			}
			var v uint8 = 255
			if textured && y%2 == 0 {
				v = 0
			}
			setGray(img, x, y, v)
		}
	}
	return imaging.New(img)
}

// MotionBlurred returns a frame whose quality falls in the motion-blur band
// with the default thresholds: rows alternate between two mid grays, giving a
// luminance variance of 45^2 = 2025 (quality 0.405).
func MotionBlurred() *imaging.Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	for y := 0; y < FrameHeight; y++ {
		var v uint8 = 100
		if y%2 == 1 {
			v = 190
		}
		for x := 0; x < FrameWidth; x++ {
			setGray(img, x, y, v)
		}
	}
	return imaging.New(img)
}

// Blurred returns a uniform gray frame with zero variance.
func Blurred() *imaging.Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			setGray(img, x, y, 128)
		}
	}
	return imaging.New(img)
}

func setGray(img *image.NRGBA, x, y int, v uint8) {
	off := img.PixOffset(x, y)
	img.Pix[off] = v
	img.Pix[off+1] = v
	img.Pix[off+2] = v
	img.Pix[off+3] = 255
}

// ErrScriptedFailure is returned for timestamps marked as failing.
var ErrScriptedFailure = errors.New("scripted decode failure")

// ScriptedDecoder serves frames from a fixed list: timestamp ms maps to
// Frames[ms/StepMS], clamped to the last frame. A nil entry fails to decode.
// It records every call and the peak number of concurrent calls.
type ScriptedDecoder struct {
	Frames []*imaging.Buffer
	StepMS int64
	// Delay is applied to each call; it honors context cancellation.
	Delay time.Duration

	mu        sync.Mutex
	calls     []int64
	active    int
	maxActive int
}

// DecodeFrame implements sampler.Decoder.
func (d *ScriptedDecoder) DecodeFrame(ctx context.Context, path string, ms int64) (*imaging.Buffer, error) {
	d.mu.Lock()
	d.calls = append(d.calls, ms)
	d.active++
	if d.active > d.maxActive {
		d.maxActive = d.active
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if d.Delay > 0 {
		timer := time.NewTimer(d.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if len(d.Frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrScriptedFailure)
	}
	step := d.StepMS
	if step <= 0 {
		step = 1
	}
	idx := int(ms / step)
	if idx >= len(d.Frames) {
		idx = len(d.Frames) - 1
	}
	if d.Frames[idx] == nil {
		return nil, fmt.Errorf("%w at %dms", ErrScriptedFailure, ms)
	}
	return d.Frames[idx], nil
}

// Calls returns the timestamps requested so far.
func (d *ScriptedDecoder) Calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.calls...)
}

// MaxConcurrent returns the peak number of overlapping DecodeFrame calls.
func (d *ScriptedDecoder) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxActive
}

// ScenarioFrames returns the 20-frame sequence used by end-to-end tests:
// 11 distinct sharp pages, 3 immediate repeats of an accepted page, 3 blurred
// frames and 3 motion-blurred frames.
func ScenarioFrames() []*imaging.Buffer {
	return []*imaging.Buffer{
		Page(0), Page(0), Blurred(), Page(1),
		MotionBlurred(), Page(2), Page(3), Page(3),
		Blurred(), Page(4), Page(5), MotionBlurred(),
		Page(6), Page(7), Page(7), Blurred(),
		Page(8), MotionBlurred(), Page(9), Page(10),
	}
}
