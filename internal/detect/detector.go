package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/scanerr"
)

// Range is the trimmed portion of the source in milliseconds.
type Range struct {
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// DurationMS returns the length of the range.
func (r Range) DurationMS() int64 { return r.EndMS - r.StartMS }

// FrameSource is satisfied by *sampler.Handle.
type FrameSource interface {
	Frame(ctx context.Context, ms int64) (*imaging.Buffer, error)
}

// Progress receives the number of processed samples after each one.
type Progress func(done, total int)

// Candidate is one sampled frame and its verdict.
type Candidate struct {
	TimestampMS int64
	Thumbnail   *imaging.Buffer
	Quality     float64
	Reason      Reason
	// Similarity to the previously accepted frame; zero when not compared.
	Similarity float64
}

// Result is the outcome of one detection pass. It is produced whole; a
// cancelled or failed pass yields no partial result.
type Result struct {
	Accepted []Candidate
	Excluded []Candidate
	Samples  int
	// Skipped counts samples that failed to decode.
	Skipped int
}

// Detector scores and deduplicates sampled frames.
type Detector struct {
	thresholds Thresholds
	thumbEdge  int
	logger     *slog.Logger
}

// New constructs a detector. thumbEdge bounds the stored thumbnail's longer
// edge; zero keeps the decoded size.
func New(th Thresholds, thumbEdge int, logger *slog.Logger) *Detector {
	return &Detector{
		thresholds: th,
		thumbEdge:  thumbEdge,
		logger:     logging.NewComponentLogger(logger, "detector"),
	}
}

// Thresholds returns the heuristics in use.
func (d *Detector) Thresholds() Thresholds { return d.thresholds }

// Run samples r at the given density and classifies every frame in
// timestamp order. Only the most recently accepted frame is used as the
// duplicate reference; frames that fail to decode are skipped without
// touching it.
func (d *Detector) Run(ctx context.Context, src FrameSource, r Range, density float64, progress Progress) (Result, error) {
	if src == nil {
		return Result{}, errors.New("detect: frame source required")
	}
	if r.StartMS < 0 || r.DurationMS() <= 0 {
		return Result{}, scanerr.Wrap(scanerr.ErrValidation, "detection", "run", fmt.Sprintf("invalid range %d-%dms", r.StartMS, r.EndMS), nil)
	}
	if density < 0 || density > 1 {
		return Result{}, scanerr.Wrap(scanerr.ErrValidation, "detection", "run", fmt.Sprintf("density %.3f outside [0,1]", density), nil)
	}

	logger := logging.WithContext(ctx, d.logger)
	timestamps := Timestamps(r, density)
	result := Result{Samples: len(timestamps)}
	var reference *imaging.Buffer

	for i, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		frame, err := src.Frame(ctx, ts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			if errors.Is(err, scanerr.ErrExternalTool) || errors.Is(err, scanerr.ErrSessionInvariant) {
				return Result{}, err
			}
			result.Skipped++
			logger.Debug("sample skipped",
				logging.Int64("timestamp_ms", ts),
				logging.Error(err),
			)
			d.report(progress, i+1, len(timestamps))
			continue
		}

		candidate := Candidate{
			TimestampMS: ts,
			Quality:     Quality(frame, d.thresholds),
		}
		candidate.Reason = Classify(candidate.Quality, d.thresholds)
		if candidate.Reason == ReasonNone && reference != nil {
			candidate.Similarity = Similarity(reference, frame, d.thresholds.GridSize)
			if IsDuplicate(candidate.Similarity, d.thresholds) {
				candidate.Reason = ReasonDuplicate
			}
		}
		candidate.Thumbnail = d.thumbnail(frame)

		if candidate.Reason == ReasonNone {
			reference = frame
			result.Accepted = append(result.Accepted, candidate)
		} else {
			result.Excluded = append(result.Excluded, candidate)
		}
		decision := logging.DecisionAttrs("frame_classification", decisionResult(candidate.Reason), string(candidate.Reason))
		logger.Debug("frame classified", logging.Args(append(decision,
			logging.Int64("timestamp_ms", ts),
			logging.Float64("quality", candidate.Quality),
			logging.Float64("similarity", candidate.Similarity),
		)...)...)
		d.report(progress, i+1, len(timestamps))
	}

	logger.Info("detection complete",
		logging.String(logging.FieldEventType, "detection_complete"),
		logging.Int("samples", result.Samples),
		logging.Int("accepted", len(result.Accepted)),
		logging.Int("excluded", len(result.Excluded)),
		logging.Int("skipped", result.Skipped),
		logging.Float64("density", density),
	)
	return result, nil
}

func decisionResult(r Reason) string {
	if r == ReasonNone {
		return "accepted"
	}
	return "excluded"
}

func (d *Detector) thumbnail(frame *imaging.Buffer) *imaging.Buffer {
	if d.thumbEdge <= 0 {
		return frame
	}
	return frame.FitLongEdge(d.thumbEdge)
}

func (d *Detector) report(progress Progress, done, total int) {
	if progress != nil {
		progress(done, total)
	}
}

// Counts tallies exclusions by reason.
func (r Result) Counts() map[Reason]int {
	counts := make(map[Reason]int, 3)
	for _, c := range r.Excluded {
		counts[c.Reason]++
	}
	return counts
}
