package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"videos2pdf/internal/detect"
	"videos2pdf/internal/fileutil"
	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/pdfexport"
	"videos2pdf/internal/sampler"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/selection"
	"videos2pdf/internal/staging"
	"videos2pdf/internal/store"
)

const storeTimeout = 5 * time.Second

// Session is one scan from source video to exported PDF. All mutations go
// through a single mutex; readers use Snapshot or Subscribe and never block
// a command.
type Session struct {
	id        string
	mode      Mode
	svc       *services
	scope     scope
	logger    *slog.Logger
	createdAt time.Time
	release   func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	frames sync.WaitGroup
	closed chan struct{}

	mu         sync.Mutex
	state      State
	branch     Branch
	origin     string
	sourcePath string
	handle     *sampler.Handle
	durationMS int64
	trim       detect.Range
	density    float64
	model      *selection.Model
	profile    pdfexport.Profile
	outputDir  string
	task       *Task
	progress   float64
	lastErr    error
	export     *pdfexport.Result
	processed  []pdfexport.PageInput
	version    uint64
	progLog    *logging.ProgressSampler

	snap atomic.Pointer[Snapshot]
	hub  *hub
}

func newSession(ctx context.Context, id string, mode Mode, sc scope, svc *services, release func(*Session)) (*Session, error) {
	logger := logging.NewComponentLogger(svc.logger, "session").With(logging.String(logging.FieldSessionID, id))
	model, err := selection.New(sc.pages, logger)
	if err != nil {
		return nil, err
	}
	state := StateRecording
	if mode == ModeImport {
		state = StateImporting
	}
	if !CanTransition(StateIdle, state) {
		return nil, invalidTransition("start", StateIdle)
	}
	lifecycle, cancel := context.WithCancel(logging.WithSessionID(context.WithoutCancel(ctx), id))
	s := &Session{
		id:        id,
		mode:      mode,
		svc:       svc,
		scope:     sc,
		logger:    logger,
		createdAt: svc.now(),
		release:   release,
		ctx:       lifecycle,
		cancel:    cancel,
		closed:    make(chan struct{}),
		state:     state,
		density:   svc.cfg.Detection.Density,
		model:     model,
		profile:   svc.profile,
		outputDir: svc.cfg.Paths.OutputDir,
		progLog:   logging.NewProgressSampler(25),
		hub:       newHub(),
	}
	model.SetOrderHook(s.persistOrder)

	s.mu.Lock()
	s.commit()
	s.persist()
	s.mu.Unlock()

	logger.Info("session started",
		logging.String("mode", string(mode)),
		logging.String("scope", sc.root),
		logging.String(logging.FieldEventType, "session_started"),
	)
	return s, nil
}

// ID returns the session id, which is also the scope directory name.
func (s *Session) ID() string { return s.id }

// RecordingPath is where the capture subsystem should write the recording.
func (s *Session) RecordingPath() string { return s.scope.recordingPath() }

// Done is closed once the session reached a terminal state and its scope
// was removed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Subscribe returns a channel that always holds the most recent snapshot.
// The channel is closed after the terminal snapshot; call stop to leave
// early.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.subscribe(*s.snap.Load())
}

// AttachRecording opens the finished recording. An empty path means
// RecordingPath. Files outside the scope are copied in first. On failure the
// session stays in RECORDING with the error attached.
func (s *Session) AttachRecording(ctx context.Context, path string) error {
	s.mu.Lock()
	if s.state != StateRecording {
		err := invalidTransition("attach_recording", s.state, StateRecording)
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if strings.TrimSpace(path) == "" {
		path = s.scope.recordingPath()
	}
	src := path
	if _, err := os.Stat(path); err != nil {
		err = scanerr.Wrap(scanerr.ErrValidation, "source", "attach", "recording not readable", err)
		s.fail(err)
		return err
	}
	if !withinDir(s.scope.source, path) {
		src = filepath.Join(s.scope.source, "recording"+strings.ToLower(filepath.Ext(path)))
		if _, err := fileutil.CopyVerified(ctx, path, src); err != nil {
			err = scanerr.Wrap(scanerr.ErrValidation, "source", "attach", "copy recording into scope", err)
			s.fail(err)
			return err
		}
	}
	if err := s.openSource(ctx, src, path); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// openSource probes the video, opens its frame sampler and moves the session
// to REVIEW_SOURCE.
func (s *Session) openSource(ctx context.Context, path, origin string) error {
	dur, err := s.svc.probe(ctx, path)
	if err != nil {
		return err
	}
	if floor := s.svc.cfg.Session.MinTrimMillis; dur < floor {
		return scanerr.Wrap(scanerr.ErrValidation, "source", "probe", fmt.Sprintf("video is %dms long, minimum is %dms", dur, floor), nil)
	}
	handle, err := sampler.Open(path, dur, s.svc.decoder, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !stateIn(s.state, StateRecording, StateImporting) {
		handle.Close()
		return invalidTransition("open_source", s.state, StateRecording, StateImporting)
	}
	if s.handle != nil {
		s.handle.Close()
	}
	s.handle = handle
	s.sourcePath = path
	s.origin = origin
	s.durationMS = dur
	s.trim = detect.Range{StartMS: 0, EndMS: dur}
	s.lastErr = nil
	s.logger.Info("source opened",
		logging.String("source", origin),
		logging.Int64("duration_ms", dur),
		logging.String(logging.FieldEventType, "source_opened"),
	)
	return s.moveTo(StateReviewSource)
}

// ConfirmSource accepts the source video and enters TRIM with the full
// duration selected.
func (s *Session) ConfirmSource() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewSource {
		return invalidTransition("confirm_source", s.state, StateReviewSource)
	}
	s.trim = detect.Range{StartMS: 0, EndMS: s.durationMS}
	return s.moveTo(StateTrim)
}

// SetTrim sets the portion of the video used for page selection.
func (s *Session) SetTrim(startMS, endMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTrim {
		return invalidTransition("set_trim", s.state, StateTrim)
	}
	if startMS < 0 || endMS <= startMS || endMS > s.durationMS {
		return scanerr.Wrap(scanerr.ErrValidation, "session", "set_trim",
			fmt.Sprintf("range %d-%dms outside 0-%dms", startMS, endMS, s.durationMS), nil)
	}
	if floor := s.svc.cfg.Session.MinTrimMillis; endMS-startMS < floor {
		return scanerr.Wrap(scanerr.ErrValidation, "session", "set_trim",
			fmt.Sprintf("range is %dms, minimum is %dms", endMS-startMS, floor), nil)
	}
	s.trim = detect.Range{StartMS: startMS, EndMS: endMS}
	s.commit()
	s.persist()
	return nil
}

// ChooseAutoDetect takes the detector branch and starts a detection pass.
func (s *Session) ChooseAutoDetect(density float64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTrim {
		return nil, invalidTransition("choose_auto_detect", s.state, StateTrim)
	}
	if err := validateDensity(density); err != nil {
		return nil, err
	}
	s.branch = BranchAutoDetect
	if err := s.moveTo(StateAutoDetect); err != nil {
		return nil, err
	}
	return s.startDetection(density), nil
}

// Redetect runs detection again, for example with a new density. The new
// result replaces every previous candidate page.
func (s *Session) Redetect(density float64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.branch != BranchAutoDetect || !stateIn(s.state, StateAutoDetect, StatePageReview) {
		return nil, invalidTransition("redetect", s.state, StateAutoDetect, StatePageReview)
	}
	if s.task != nil {
		return nil, s.busy("redetect")
	}
	if err := validateDensity(density); err != nil {
		return nil, err
	}
	if s.state == StatePageReview {
		if err := s.moveTo(StateAutoDetect); err != nil {
			return nil, err
		}
	}
	return s.startDetection(density), nil
}

// ChooseManual takes the manual capture branch.
func (s *Session) ChooseManual() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTrim {
		return invalidTransition("choose_manual", s.state, StateTrim)
	}
	s.branch = BranchManual
	return s.moveTo(StateManualPick)
}

// Frame decodes the frame nearest to ms for scrubbing. It is rejected while
// a detection pass owns the decoder.
func (s *Session) Frame(ctx context.Context, ms int64) (*imaging.Buffer, error) {
	s.mu.Lock()
	if s.state.Terminal() || s.handle == nil {
		err := invalidTransition("frame", s.state, StateReviewSource, StateTrim, StateManualPick, StatePageReview)
		s.mu.Unlock()
		return nil, err
	}
	if s.task != nil && s.task.kind == TaskDetection {
		s.mu.Unlock()
		return nil, s.busy("frame")
	}
	h := s.handle
	s.frames.Add(1)
	s.mu.Unlock()
	defer s.frames.Done()
	return h.Frame(ctx, ms)
}

// Capture decodes the frame at ms and adds it as a manual page. Decode
// failures are returned as retryable DecodeErrors.
func (s *Session) Capture(ctx context.Context, ms int64) (selection.Page, error) {
	s.mu.Lock()
	if s.state != StateManualPick {
		err := invalidTransition("capture", s.state, StateManualPick)
		s.mu.Unlock()
		return selection.Page{}, err
	}
	if ms < s.trim.StartMS || ms > s.trim.EndMS {
		err := scanerr.Wrap(scanerr.ErrValidation, "session", "capture",
			fmt.Sprintf("%dms outside trim %d-%dms", ms, s.trim.StartMS, s.trim.EndMS), nil)
		s.mu.Unlock()
		return selection.Page{}, err
	}
	h := s.handle
	s.frames.Add(1)
	s.mu.Unlock()

	frame, err := h.Frame(ctx, ms)
	s.frames.Done()
	if err != nil {
		return selection.Page{}, err
	}
	quality := detect.Quality(frame, s.svc.detector.Thresholds())
	thumb := frame
	if edge := s.svc.cfg.Detection.ThumbnailMaxEdge; edge > 0 {
		thumb = frame.FitLongEdge(edge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateManualPick {
		return selection.Page{}, invalidTransition("capture", s.state, StateManualPick)
	}
	page, err := s.model.Add(selection.SourceManual, ms, quality, thumb)
	if err != nil {
		return selection.Page{}, err
	}
	s.commit()
	s.logger.Debug("page captured",
		logging.String("page_id", page.ID),
		logging.Int64("timestamp_ms", ms),
		logging.Float64("quality", quality),
	)
	return page, nil
}

// Review moves to PAGE_REVIEW once pages are in.
func (s *Session) Review() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !stateIn(s.state, StateAutoDetect, StateManualPick) {
		return invalidTransition("review", s.state, StateAutoDetect, StateManualPick)
	}
	if s.task != nil {
		return s.busy("review")
	}
	return s.moveTo(StatePageReview)
}

// RemovePage deletes a candidate page and its thumbnail.
func (s *Session) RemovePage(id string) error {
	return s.edit("remove_page", func(m *selection.Model) error { return m.Remove(id) })
}

// MovePage relocates one page in the working order.
func (s *Session) MovePage(from, to int) error {
	return s.edit("move_page", func(m *selection.Model) error { return m.Move(from, to) })
}

// TogglePage flips the selection of a detected page.
func (s *Session) TogglePage(id string) (bool, error) {
	var selected bool
	err := s.edit("toggle_page", func(m *selection.Model) error {
		var err error
		selected, err = m.Toggle(id)
		return err
	})
	return selected, err
}

// SetEdit applies or replaces a page edit.
func (s *Session) SetEdit(id string, e selection.Edit) error {
	return s.edit("set_edit", func(m *selection.Model) error { return m.SetEdit(id, e) })
}

// ResetEdit restores a page's default edit.
func (s *Session) ResetEdit(id string) error {
	return s.edit("reset_edit", func(m *selection.Model) error { return m.ResetEdit(id) })
}

// ConfirmOrder fixes the current working order as the export order.
func (s *Session) ConfirmOrder() ([]string, error) {
	var order []string
	err := s.edit("confirm_order", func(m *selection.Model) error {
		order = m.Confirm()
		return nil
	})
	return order, err
}

func (s *Session) edit(op string, fn func(*selection.Model) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !stateIn(s.state, StateAutoDetect, StateManualPick, StatePageReview) {
		return invalidTransition(op, s.state, StateAutoDetect, StateManualPick, StatePageReview)
	}
	if s.task != nil {
		return s.busy(op)
	}
	if err := fn(s.model); err != nil {
		return err
	}
	s.commit()
	return nil
}

// SetProfile sets the export profile.
func (s *Session) SetProfile(p pdfexport.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateExportSetup {
		return invalidTransition("set_profile", s.state, StateExportSetup)
	}
	if s.task != nil {
		return s.busy("set_profile")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.profile = p
	s.commit()
	return nil
}

// SetOutputDir changes where the PDF is written.
func (s *Session) SetOutputDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateExportSetup {
		return invalidTransition("set_output_dir", s.state, StateExportSetup)
	}
	if s.task != nil {
		return s.busy("set_output_dir")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return scanerr.Wrap(scanerr.ErrValidation, "session", "set_output_dir", "output directory required", nil)
	}
	s.outputDir = dir
	s.commit()
	return nil
}

// CancelTask cancels the running background task, if any. It reports
// whether a task was running. The task's own cleanup runs before its Done
// channel closes.
func (s *Session) CancelTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task == nil {
		return false
	}
	s.task.Cancel()
	return true
}

// Discard cancels any running task, releases every thumbnail and deletes
// the session scope. It is idempotent; calls on a terminal session wait for
// the first teardown to finish and return nil.
func (s *Session) Discard() error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		<-s.closed
		return nil
	}
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
	from := s.state
	s.state = StateDiscarded
	s.progress = 0
	s.commit()
	s.persist()
	s.mu.Unlock()

	s.cancel()
	s.tasks.Wait()
	s.logger.Info("session discarded",
		logging.String("from_state", string(from)),
		logging.String(logging.FieldEventType, "session_discarded"),
	)
	return s.teardown()
}

// teardown runs once, after the session reached a terminal state and no
// task can touch the scope any more.
func (s *Session) teardown() error {
	s.frames.Wait()
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.processed = nil
	relErr := s.model.Release()
	s.commit()
	s.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
	res := staging.RemoveScope(context.WithoutCancel(s.ctx), s.scope.root, s.logger)
	s.hub.close()
	s.cancel()
	s.release(s)
	close(s.closed)

	if relErr != nil {
		return relErr
	}
	if !res.OK() {
		return fmt.Errorf("remove scope %s: %d entries left: %w", s.scope.root, len(res.Errors), res.Errors[0].Error)
	}
	return nil
}

// moveTo applies a checked transition. Caller holds s.mu.
func (s *Session) moveTo(to State) error {
	if !CanTransition(s.state, to) {
		return invalidTransition(string(to), s.state)
	}
	from := s.state
	s.state = to
	s.commit()
	s.persist()
	s.logger.Debug("state changed",
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
	return nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.lastErr = err
	s.commit()
	s.persist()
}

func (s *Session) busy(op string) error {
	return scanerr.Wrap(scanerr.ErrBusy, "session", op, fmt.Sprintf("%s task running", s.task.kind), nil)
}

// commit publishes a new snapshot. Caller holds s.mu.
func (s *Session) commit() {
	s.version++
	msg, kind := errorFields(s.lastErr)
	order := s.model.ExportOrder()
	ids := make([]string, len(order))
	for i, p := range order {
		ids[i] = p.ID
	}
	snap := Snapshot{
		Version:     s.version,
		ID:          s.id,
		State:       s.state,
		Mode:        s.mode,
		Branch:      s.branch,
		SourcePath:  s.origin,
		ScopeDir:    s.scope.root,
		DurationMS:  s.durationMS,
		Trim:        s.trim,
		Density:     s.density,
		Pages:       s.model.Pages(),
		Edits:       s.model.Edits(),
		ExportOrder: ids,
		Confirmed:   s.model.Confirmed(),
		Profile:     s.profile,
		OutputDir:   s.outputDir,
		Progress:    s.progress,
		LastError:   msg,
		ErrorKind:   kind,
		UpdatedAt:   s.svc.now(),
	}
	if s.task != nil {
		snap.Task = s.task.kind
	}
	if s.export != nil {
		res := *s.export
		snap.Export = &res
	}
	s.snap.Store(&snap)
	s.hub.publish(snap)
}

// persist writes the session row. Store failures are logged; they never
// fail a command. Caller holds s.mu.
func (s *Session) persist() {
	if s.svc.store == nil {
		return
	}
	msg, _ := errorFields(s.lastErr)
	source := s.origin
	if source == "" {
		source = s.sourcePath
	}
	rec := store.SessionRecord{
		ID:          s.id,
		State:       string(s.state),
		Mode:        string(s.mode),
		SourcePath:  source,
		ScopeDir:    s.scope.root,
		DurationMS:  s.durationMS,
		TrimStartMS: s.trim.StartMS,
		TrimEndMS:   s.trim.EndMS,
		Error:       msg,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.svc.now(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), storeTimeout)
	defer cancel()
	if err := s.svc.store.SaveSession(ctx, rec); err != nil {
		logging.WarnWithContext(s.logger, "session row not saved", "session_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "history may miss this session"),
		)
	}
}

// persistOrder is the selection model's order hook. It runs under s.mu.
func (s *Session) persistOrder(ids []string) {
	if s.svc.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), storeTimeout)
	defer cancel()
	if err := s.svc.store.SaveOrder(ctx, s.id, ids); err != nil {
		logging.WarnWithContext(s.logger, "page order not saved", "order_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "persisted order may be stale"),
		)
	}
}

func validateDensity(d float64) error {
	if d < 0 || d > 1 {
		return scanerr.Wrap(scanerr.ErrValidation, "session", "density", fmt.Sprintf("density %.2f outside [0,1]", d), nil)
	}
	return nil
}

func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
