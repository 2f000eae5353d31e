package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"videos2pdf/internal/detect"
	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/pdfexport"
	"videos2pdf/internal/sampler"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/selection"
	"videos2pdf/internal/store"
)

// startTask launches run on its own goroutine. run applies its own result
// under s.mu and must do nothing if s.task no longer points at its task.
// Caller holds s.mu.
func (s *Session) startTask(kind TaskKind, run func(ctx context.Context, t *Task) error) *Task {
	ctx, cancel := context.WithCancel(logging.WithStage(s.ctx, string(kind)))
	t := newTask(kind, cancel)
	s.task = t
	s.progress = 0
	s.lastErr = nil
	s.progLog.Reset()
	s.commit()

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		t.finish(run(ctx, t))
	}()
	return t
}

// reportProgress publishes a non-decreasing progress value for t.
func (s *Session) reportProgress(t *Task, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != t || fraction <= s.progress {
		return
	}
	s.progress = fraction
	s.commit()
	if s.progLog.ShouldLog(fraction*100, string(t.kind)) {
		s.logger.Info("task progress",
			logging.String(logging.FieldStage, string(t.kind)),
			logging.Float64(logging.FieldProgressPercent, fraction*100),
		)
	}
}

// awaitTask waits for t, cancelling it when ctx ends first.
func awaitTask(ctx context.Context, t *Task) error {
	select {
	case <-t.Done():
		return t.Wait()
	case <-ctx.Done():
		t.Cancel()
		<-t.Done()
		return ctx.Err()
	}
}

// startDetection runs one detection pass over the trim range. A successful
// pass replaces every candidate page; a failed or cancelled one leaves the
// previous pages in place. Caller holds s.mu.
func (s *Session) startDetection(density float64) *Task {
	handle := s.handle
	trim := s.trim
	s.density = density
	return s.startTask(TaskDetection, func(ctx context.Context, t *Task) error {
		// Scrub and capture decodes that started before the task must drain
		// before the detector takes the handle.
		s.frames.Wait()
		start := time.Now()
		res, err := s.svc.detector.Run(ctx, handle, trim, density, func(done, total int) {
			if total > 0 {
				s.reportProgress(t, float64(done)/float64(total))
			}
		})

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.task != t {
			if err == nil {
				err = context.Canceled
			}
			return err
		}
		s.task = nil
		if err != nil {
			if !cancelled(err) {
				s.lastErr = err
			}
			s.commit()
			return err
		}
		if _, err := s.model.ReplaceDetected(res); err != nil {
			s.lastErr = err
			s.commit()
			return err
		}
		s.progress = 1
		s.commit()
		s.persist()
		counts := res.Counts()
		s.logger.Info("candidate pages ready",
			logging.Int("accepted", len(res.Accepted)),
			logging.Int("duplicates", counts[detect.ReasonDuplicate]),
			logging.Int("blurred", counts[detect.ReasonBlur]),
			logging.Int("motion_blurred", counts[detect.ReasonMotionBlur]),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldEventType, "detection_applied"),
		)
		return nil
	})
}

type processJob struct {
	page selection.Page
	edit selection.Edit
	dst  string
}

// StartProcessing applies crop, auto-fix and the enhanced filter to every
// selected page in export order, writing the results to the scope's
// processed directory. On success the session enters EXPORT_SETUP; on
// failure or cancellation it returns to the state it came from.
func (s *Session) StartProcessing() (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !stateIn(s.state, StateAutoDetect, StateManualPick, StatePageReview) {
		return nil, invalidTransition("process", s.state, StateAutoDetect, StateManualPick, StatePageReview)
	}
	if s.task != nil {
		return nil, s.busy("process")
	}
	if err := s.model.Consistent(); err != nil {
		return nil, err
	}
	pages := s.model.ExportOrder()
	if len(pages) == 0 {
		return nil, scanerr.Wrap(scanerr.ErrValidation, "session", "process", "no pages selected", nil)
	}
	jobs := make([]processJob, len(pages))
	for i, p := range pages {
		jobs[i] = processJob{page: p, edit: s.model.EditOrDefault(p.ID), dst: s.scope.processedPath(p.ID)}
	}
	if err := s.scope.clearProcessed(); err != nil {
		return nil, fmt.Errorf("clear processed pages: %w", err)
	}
	back := s.state
	handle := s.handle
	if err := s.moveTo(StateProcessing); err != nil {
		return nil, err
	}

	return s.startTask(TaskProcessing, func(ctx context.Context, t *Task) error {
		out := make([]pdfexport.PageInput, 0, len(jobs))
		var err error
		for i, job := range jobs {
			if err = ctx.Err(); err != nil {
				break
			}
			if err = s.processPage(ctx, handle, job); err != nil {
				err = scanerr.Wrap(scanerr.ErrExport, "processing", "page", job.page.ID, err)
				break
			}
			out = append(out, pdfexport.PageInput{ID: job.page.ID, Path: job.dst, Edit: job.edit})
			s.reportProgress(t, float64(i+1)/float64(len(jobs)))
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.task != t {
			if err == nil {
				err = context.Canceled
			}
			return err
		}
		s.task = nil
		if err != nil {
			if cleanErr := s.scope.clearProcessed(); cleanErr != nil {
				logging.WarnWithContext(s.logger, "processed pages not cleared", "processing_cleanup_failed",
					logging.Error(cleanErr),
				)
			}
			if !cancelled(err) {
				s.lastErr = err
				logging.ErrorWithContext(s.logger, "page processing failed", "processing_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the source video and free space, then process again"),
				)
			}
			s.state = back
			s.progress = 0
			s.commit()
			s.persist()
			return err
		}
		s.processed = out
		s.progress = 1
		return s.moveTo(StateExportSetup)
	}), nil
}

// Process runs StartProcessing and waits for it. Cancelling ctx cancels the
// task.
func (s *Session) Process(ctx context.Context) error {
	t, err := s.StartProcessing()
	if err != nil {
		return err
	}
	return awaitTask(ctx, t)
}

// processPage renders one page from the full-resolution source frame. When
// the source cannot be decoded at that timestamp the stored thumbnail is used.
func (s *Session) processPage(ctx context.Context, handle *sampler.Handle, job processJob) error {
	buf, err := handle.Frame(ctx, job.page.TimestampMS)
	if err != nil {
		if cancelled(err) {
			return err
		}
		logging.WarnWithContext(s.logger, "source frame unavailable, using thumbnail", "process_fallback",
			logging.String("page_id", job.page.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "page exported at thumbnail resolution"),
		)
		if buf, err = imaging.Load(job.page.ThumbPath); err != nil {
			return err
		}
	}
	if job.edit.HasCrop() {
		if buf, err = buf.Crop(job.edit.Crop); err != nil {
			return err
		}
	}
	if job.edit.AutoFix {
		buf = buf.AutoLevels()
	}
	if job.edit.Filter == selection.FilterEnhanced {
		buf = buf.Enhance()
	}
	return buf.Save(job.dst)
}

// StartExport assembles the processed pages into a PDF in the output
// directory. Success records the export, moves to EXPORTED and tears the
// session down. Failure or cancellation deletes any partial file and leaves
// the session in EXPORT_SETUP with the error attached, ready for a retry.
func (s *Session) StartExport() (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateExportSetup {
		return nil, invalidTransition("export", s.state, StateExportSetup)
	}
	if s.task != nil {
		return nil, s.busy("export")
	}
	pages := append([]pdfexport.PageInput(nil), s.processed...)
	profile := s.profile
	dest := s.outputDir

	return s.startTask(TaskExport, func(ctx context.Context, t *Task) error {
		res, err := s.svc.assembler.Assemble(ctx, pages, profile, dest, func(f float64) {
			s.reportProgress(t, f)
		})

		s.mu.Lock()
		if s.task != t {
			s.mu.Unlock()
			if err == nil {
				// The session was discarded while the file was renamed into place.
				_ = os.Remove(res.Path)
				err = context.Canceled
			}
			return err
		}
		s.task = nil
		if err != nil {
			if !cancelled(err) {
				s.lastErr = err
			}
			s.progress = 0
			s.commit()
			s.persist()
			s.mu.Unlock()
			logging.WarnWithContext(s.logger, "export failed", "export_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check free space and output directory, then retry"),
				logging.String(logging.FieldImpact, "session stays in export setup"),
			)
			return err
		}
		s.export = &res
		s.progress = 1
		if err := s.moveTo(StateExported); err != nil {
			s.mu.Unlock()
			return err
		}
		s.recordExport(res, profile)
		s.mu.Unlock()

		s.logger.Info("export complete",
			logging.String("path", res.Path),
			logging.Int("pages", res.Pages),
			logging.Int64("size_bytes", res.SizeBytes),
			logging.String(logging.FieldEventType, "session_exported"),
		)
		return s.teardown()
	}), nil
}

// Export runs StartExport and waits for it.
func (s *Session) Export(ctx context.Context) (pdfexport.Result, error) {
	t, err := s.StartExport()
	if err != nil {
		return pdfexport.Result{}, err
	}
	if err := awaitTask(ctx, t); err != nil {
		return pdfexport.Result{}, err
	}
	snap := s.Snapshot()
	if snap.Export == nil {
		return pdfexport.Result{}, scanerr.Wrap(scanerr.ErrSessionInvariant, "session", "export", "no export result", nil)
	}
	return *snap.Export, nil
}

// recordExport appends the export to the history. Caller holds s.mu.
func (s *Session) recordExport(res pdfexport.Result, profile pdfexport.Profile) {
	if s.svc.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), storeTimeout)
	defer cancel()
	_, err := s.svc.store.RecordExport(ctx, store.ExportRecord{
		SessionID: s.id,
		Path:      res.Path,
		SizeBytes: res.SizeBytes,
		PageCount: res.Pages,
		Preset:    string(profile.Preset),
		PageSize:  string(profile.PageSize),
		Grayscale: profile.Grayscale,
		CreatedAt: res.CreatedAt,
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "export not recorded in history", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the PDF exists but is missing from history"),
		)
	}
}
