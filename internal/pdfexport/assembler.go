package pdfexport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	rscpdf "rsc.io/pdf"

	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/preflight"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/selection"
)

const partSuffix = ".part"

// PageInput is one page to render. Image is used when set; otherwise the
// file at Path is decoded when the page is reached, so only one page buffer
// is resident at a time.
type PageInput struct {
	ID    string
	Path  string
	Image *imaging.Buffer
	Edit  selection.Edit
}

// Result describes a written PDF. It is created only on success.
type Result struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	Pages     int       `json:"pages"`
	CreatedAt time.Time `json:"created_at"`
}

// ProgressFunc receives the completed fraction in [0,1]. Values never decrease.
type ProgressFunc func(fraction float64)

// Options configures an Assembler.
type Options struct {
	// MinFreeBytes is checked against the destination before writing.
	MinFreeBytes uint64
	// Now stamps document metadata and the result; defaults to time.Now.
	Now func() time.Time
	// MaxPages rejects larger documents before anything is written. Zero
	// means no limit.
	MaxPages int
}

// Assembler renders ordered pages into a single PDF.
type Assembler struct {
	logger   *slog.Logger
	minFree  uint64
	maxPages int
	now      func() time.Time
}

// New constructs an assembler.
func New(logger *slog.Logger, opts Options) *Assembler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		logger:   logging.NewComponentLogger(logger, "pdf-assembler"),
		minFree:  opts.MinFreeBytes,
		maxPages: opts.MaxPages,
		now:      now,
	}
}

// Assemble writes pages in order to a collision-free file in destDir. The
// document is built in <name>.pdf.part, its page count is verified, and only
// then is it renamed into place. Any failure or cancellation deletes the
// partial file and returns an ErrExport error.
//
// Decoded pages are converted one at a time, but fpdf keeps every encoded
// page JPEG in memory until the document is written, so peak memory grows
// with the page count times the encoded page size. Options.MaxPages bounds
// that.
func (a *Assembler) Assemble(ctx context.Context, pages []PageInput, profile Profile, destDir string, progress ProgressFunc) (Result, error) {
	if len(pages) == 0 {
		return Result{}, scanerr.Wrap(scanerr.ErrValidation, "export", "assemble", "no pages selected", nil)
	}
	if a.maxPages > 0 && len(pages) > a.maxPages {
		return Result{}, scanerr.Wrap(scanerr.ErrValidation, "export", "assemble",
			fmt.Sprintf("%d pages selected, the limit is %d", len(pages), a.maxPages), nil)
	}
	if err := profile.Validate(); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, scanerr.Wrap(scanerr.ErrExport, "export", "prepare", "create destination", err)
	}
	if err := preflight.CheckFreeSpace(destDir, a.minFree); err != nil {
		return Result{}, err
	}

	logger := logging.WithContext(ctx, a.logger)
	created := a.now()
	target, err := ResolveFilename(destDir, profile.Stem)
	if err != nil {
		return Result{}, err
	}
	part := target + partSuffix
	report := newProgress(progress, len(pages))

	doc := newDocument(profile, created)
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return Result{}, a.abort(logger, part, "cancelled", err)
		}
		if err := a.renderPage(doc, i, page, profile, report); err != nil {
			return Result{}, a.abort(logger, part, fmt.Sprintf("page %d", i+1), err)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, a.abort(logger, part, "cancelled", err)
	}

	if err := writeDocument(doc, part); err != nil {
		return Result{}, a.abort(logger, part, "write", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, a.abort(logger, part, "cancelled", err)
	}
	if err := verifyPageCount(part, len(pages)); err != nil {
		return Result{}, a.abort(logger, part, "verify", err)
	}

	final, err := a.place(part, destDir, profile.Stem, target)
	if err != nil {
		return Result{}, a.abort(logger, part, "rename", err)
	}
	info, err := os.Stat(final)
	if err != nil {
		return Result{}, scanerr.Wrap(scanerr.ErrExport, "export", "stat", final, err)
	}
	report.finish()

	result := Result{
		Path:      final,
		SizeBytes: info.Size(),
		Pages:     len(pages),
		CreatedAt: created,
	}
	logger.Info("pdf exported",
		logging.String(logging.FieldEventType, "export_complete"),
		logging.String("path", final),
		logging.Int("pages", result.Pages),
		logging.Int64("size_bytes", result.SizeBytes),
		logging.String("preset", string(profile.Preset)),
		logging.String("page_size", string(profile.PageSize)),
	)
	return result, nil
}

func newDocument(profile Profile, created time.Time) *fpdf.Fpdf {
	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: paperSizes[PageSizeA4][0], Ht: paperSizes[PageSizeA4][1]},
	})
	doc.SetCompression(true)
	doc.SetCatalogSort(true)
	doc.SetCreationDate(created)
	doc.SetModificationDate(created)
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(0, 0, 0)
	doc.SetTitle(profile.Stem, true)
	doc.SetProducer("videos2pdf", true)
	return doc
}

// renderPage applies rotation, scaling and desaturation, then appends the
// page. Progress is reported after each step.
func (a *Assembler) renderPage(doc *fpdf.Fpdf, index int, page PageInput, profile Profile, report *progress) error {
	img := page.Image
	if img == nil {
		loaded, err := imaging.Load(page.Path)
		if err != nil {
			return fmt.Errorf("load page image: %w", err)
		}
		img = loaded
	}

	rotated, err := img.Rotate(page.Edit.Rotation)
	if err != nil {
		return err
	}
	report.step(index, 0.25)

	pageW, pageH, margin := profile.canvas(rotated.Width(), rotated.Height())
	boxW, boxH := pageW-2*margin, pageH-2*margin
	fit := math.Min(boxW/float64(rotated.Width()), boxH/float64(rotated.Height()))
	drawW, drawH := float64(rotated.Width())*fit, float64(rotated.Height())*fit
	pxPerPt := profile.Preset.DPI() / 72
	scaled := rotated.Fit(int(math.Ceil(drawW*pxPerPt)), int(math.Ceil(drawH*pxPerPt)))
	report.step(index, 0.5)

	if page.Edit.Grayscale() || profile.Grayscale {
		scaled = scaled.Desaturate()
	}
	report.step(index, 0.75)

	var encoded bytes.Buffer
	if err := scaled.EncodeJPEG(&encoded, profile.Preset.Quality()); err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	name := fmt.Sprintf("page-%04d", index+1)
	opts := fpdf.ImageOptions{ImageType: "JPG"}
	doc.RegisterImageOptionsReader(name, opts, &encoded)
	doc.AddPageFormat("P", fpdf.SizeType{Wd: pageW, Ht: pageH})
	doc.ImageOptions(name, (pageW-drawW)/2, (pageH-drawH)/2, drawW, drawH, false, opts, 0, "")
	if err := doc.Error(); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	report.step(index, 1)
	return nil
}

func writeDocument(doc *fpdf.Fpdf, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := doc.Output(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// verifyPageCount reopens the written file and checks the page tree.
func verifyPageCount(path string, want int) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := rscpdf.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("parse pdf: %w", err)
	}
	if got := reader.NumPage(); got != want {
		return fmt.Errorf("pdf has %d pages, want %d", got, want)
	}
	return nil
}

// place renames the part file to target, re-resolving the name if another
// writer claimed it meanwhile.
func (a *Assembler) place(part, destDir, stem, target string) (string, error) {
	if _, err := os.Lstat(target); err == nil {
		resolved, err := ResolveFilename(destDir, stem)
		if err != nil {
			return "", err
		}
		target = resolved
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := os.Rename(part, target); err != nil {
		return "", err
	}
	return target, nil
}

func (a *Assembler) abort(logger *slog.Logger, part, step string, cause error) error {
	if err := os.Remove(part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(logger, "partial pdf removal failed", "export_cleanup",
			logging.String("path", part),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the .part file manually"),
		)
	}
	logging.WarnWithContext(logger, "pdf export aborted", "export_failed",
		logging.String("step", step),
		logging.String("path", filepath.Base(part)),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "no pdf written; session stays in export setup"),
	)
	return scanerr.Wrap(scanerr.ErrExport, "export", step, "", cause)
}

type progress struct {
	fn    ProgressFunc
	total int
	last  float64
}

func newProgress(fn ProgressFunc, total int) *progress {
	return &progress{fn: fn, total: total}
}

func (p *progress) step(index int, partial float64) {
	p.emit((float64(index) + partial) / float64(p.total))
}

func (p *progress) finish() { p.emit(1) }

func (p *progress) emit(v float64) {
	if p.fn == nil || v < p.last {
		return
	}
	if v > 1 {
		v = 1
	}
	p.last = v
	p.fn(v)
}
