package detect

import (
	"math"

	"videos2pdf/internal/config"
	"videos2pdf/internal/imaging"
)

// Reason explains why a sampled frame was not accepted as a page.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonDuplicate  Reason = "DUPLICATE"
	ReasonBlur       Reason = "BLUR"
	ReasonMotionBlur Reason = "MOTION_BLUR"
)

const (
	minSamples = 10
	maxSamples = 30
)

// Thresholds holds the empirical heuristics. They have no derivation beyond
// "good enough" and stay configurable.
type Thresholds struct {
	Blur          float64
	MotionBlur    float64
	Duplicate     float64
	VarianceScale float64
	PixelStride   int
	GridSize      int
}

// DefaultThresholds returns the stock heuristics.
func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.Default().Detection)
}

// ThresholdsFromConfig copies the detection section of the config.
func ThresholdsFromConfig(cfg config.Detection) Thresholds {
	return Thresholds{
		Blur:          cfg.BlurThreshold,
		MotionBlur:    cfg.MotionBlurThreshold,
		Duplicate:     cfg.DuplicateSimilarity,
		VarianceScale: cfg.VarianceScale,
		PixelStride:   cfg.PixelStride,
		GridSize:      cfg.GridSize,
	}
}

// SampleCount returns round(10 + 20d) for a density clamped to [0,1].
func SampleCount(density float64) int {
	d := clampUnit(density)
	n := int(math.Round(minSamples + d*(maxSamples-minSamples)))
	if n < minSamples {
		return minSamples
	}
	if n > maxSamples {
		return maxSamples
	}
	return n
}

// Timestamps returns the sample positions for r: start + i*duration/n for
// i in [0,n), strictly increasing whenever the range spans at least n ms.
func Timestamps(r Range, density float64) []int64 {
	n := SampleCount(density)
	span := r.DurationMS()
	if span <= 0 {
		return nil
	}
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ts := r.StartMS + int64(i)*span/int64(n)
		if len(out) > 0 && ts <= out[len(out)-1] {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// Quality is the sharpness proxy: subsampled luminance variance divided by
// the variance scale, clamped to [0,1].
func Quality(frame *imaging.Buffer, th Thresholds) float64 {
	if frame == nil {
		return 0
	}
	scale := th.VarianceScale
	if scale <= 0 {
		scale = 1
	}
	return clampUnit(frame.LuminanceVariance(th.PixelStride) / scale)
}

// Classify maps a quality score to an exclusion reason. ReasonNone means the
// frame is eligible for acceptance.
func Classify(quality float64, th Thresholds) Reason {
	switch {
	case quality < th.Blur:
		return ReasonBlur
	case quality < th.MotionBlur:
		return ReasonMotionBlur
	default:
		return ReasonNone
	}
}

// Similarity downsamples both frames to an n x n grid and returns
// 1 - sum|diff| / (n*n*3*255). Identical frames score 1.
func Similarity(a, b *imaging.Buffer, grid int) float64 {
	if a == nil || b == nil {
		return 0
	}
	if grid < 1 {
		grid = 1
	}
	ga := a.Grid(grid)
	gb := b.Grid(grid)
	var diff float64
	for i := range ga {
		for c := 0; c < 3; c++ {
			diff += math.Abs(ga[i][c] - gb[i][c])
		}
	}
	limit := float64(grid*grid*3) * 255
	return clampUnit(1 - diff/limit)
}

// IsDuplicate applies the duplicate rule. A score exactly at the threshold
// counts as a duplicate.
func IsDuplicate(similarity float64, th Thresholds) bool {
	return similarity >= th.Duplicate
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
