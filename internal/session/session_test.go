package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rsc.io/pdf"

	"videos2pdf/internal/config"
	"videos2pdf/internal/detect"
	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/pdfexport"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/selection"
	"videos2pdf/internal/session"
	"videos2pdf/internal/store"
	"videos2pdf/internal/testsupport"
)

type harness struct {
	cfg     *config.Config
	store   *store.Store
	decoder *testsupport.ScriptedDecoder
	mgr     *session.Manager
}

type harnessOption func(*harnessSettings)

type harnessSettings struct {
	frames   []*imaging.Buffer
	delay    time.Duration
	duration int64
	exporter session.Exporter
}

func withFrames(frames []*imaging.Buffer) harnessOption {
	return func(s *harnessSettings) { s.frames = frames }
}

func withDelay(d time.Duration) harnessOption {
	return func(s *harnessSettings) { s.delay = d }
}

func withDuration(ms int64) harnessOption {
	return func(s *harnessSettings) { s.duration = ms }
}

func withExporter(e session.Exporter) harnessOption {
	return func(s *harnessSettings) { s.exporter = e }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	settings := harnessSettings{frames: testsupport.ScenarioFrames(), duration: 10000}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	dec := &testsupport.ScriptedDecoder{Frames: settings.frames, StepMS: 500, Delay: settings.delay}
	mgr, err := session.NewManager(cfg, session.Options{
		Store:   st,
		Decoder: dec,
		Prober: func(context.Context, string) (int64, error) {
			return settings.duration, nil
		},
		Exporter: settings.exporter,
		Now:      func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("open manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return &harness{cfg: cfg, store: st, decoder: dec, mgr: mgr}
}

func (h *harness) importVideo(t *testing.T) *session.Session {
	t.Helper()
	src := filepath.Join(testsupport.BaseDir(h.cfg), "input", "pages.mp4")
	testsupport.WriteFile(t, src, 4096)
	s, err := h.mgr.StartImport(context.Background(), src)
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	return s
}

// toTrim imports the scenario video and confirms it.
func (h *harness) toTrim(t *testing.T) *session.Session {
	t.Helper()
	s := h.importVideo(t)
	if err := s.ConfirmSource(); err != nil {
		t.Fatalf("confirm source: %v", err)
	}
	return s
}

func (h *harness) toDetected(t *testing.T) *session.Session {
	t.Helper()
	s := h.toTrim(t)
	task, err := s.ChooseAutoDetect(0.5)
	if err != nil {
		t.Fatalf("choose auto detect: %v", err)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("detection: %v", err)
	}
	return s
}

func (h *harness) toExportSetup(t *testing.T) *session.Session {
	t.Helper()
	s := h.toDetected(t)
	if err := s.Review(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := s.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	return s
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected %s removed, stat err=%v", path, err)
	}
}

func workspaceEntries(t *testing.T, cfg *config.Config) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(cfg.Paths.WorkspaceDir)
	if err != nil {
		t.Fatalf("read workspace: %v", err)
	}
	return entries
}

func TestEndToEndAutoDetectExport(t *testing.T) {
	h := newHarness(t)
	s := h.importVideo(t)

	snap := s.Snapshot()
	if snap.State != session.StateReviewSource || snap.DurationMS != 10000 {
		t.Fatalf("unexpected snapshot after import: %+v", snap)
	}
	if err := s.ConfirmSource(); err != nil {
		t.Fatalf("confirm source: %v", err)
	}
	task, err := s.ChooseAutoDetect(0.5)
	if err != nil {
		t.Fatalf("choose auto detect: %v", err)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("detection: %v", err)
	}

	snap = s.Snapshot()
	if len(snap.Pages) != 20 || snap.Selected() != 11 {
		t.Fatalf("expected 20 candidates with 11 selected, got %d/%d", len(snap.Pages), snap.Selected())
	}
	excluded := snap.Excluded()
	if excluded[detect.ReasonDuplicate] != 3 || excluded[detect.ReasonBlur] != 3 || excluded[detect.ReasonMotionBlur] != 3 {
		t.Fatalf("unexpected exclusions: %v", excluded)
	}
	if snap.Progress != 1 || snap.Task != session.TaskNone {
		t.Fatalf("expected finished task, got task=%q progress=%v", snap.Task, snap.Progress)
	}

	if err := s.Review(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := s.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := s.Snapshot().State; got != session.StateExportSetup {
		t.Fatalf("expected EXPORT_SETUP, got %s", got)
	}
	profile := pdfexport.DefaultProfile()
	profile.Stem = "lecture notes"
	if err := s.SetProfile(profile); err != nil {
		t.Fatalf("set profile: %v", err)
	}

	scope := s.Snapshot().ScopeDir
	res, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Pages != 11 || filepath.Base(res.Path) != "lecture notes.pdf" {
		t.Fatalf("unexpected export result: %+v", res)
	}
	r, err := pdf.Open(res.Path)
	if err != nil {
		t.Fatalf("open exported pdf: %v", err)
	}
	if r.NumPage() != 11 {
		t.Fatalf("expected 11 pdf pages, got %d", r.NumPage())
	}

	<-s.Done()
	assertGone(t, scope)
	if h.mgr.Active() != nil {
		t.Fatal("expected no active session after export")
	}
	if got := s.Snapshot(); got.State != session.StateExported || got.Export == nil || len(got.Pages) != 0 {
		t.Fatalf("unexpected final snapshot: state=%s export=%v pages=%d", got.State, got.Export, len(got.Pages))
	}

	history, err := h.store.ListExports(context.Background(), 10)
	if err != nil {
		t.Fatalf("list exports: %v", err)
	}
	if len(history) != 1 || history[0].PageCount != 11 || history[0].SessionID != s.ID() {
		t.Fatalf("unexpected history: %+v", history)
	}
	rec, err := h.store.GetSession(context.Background(), s.ID())
	if err != nil || rec == nil {
		t.Fatalf("get session: %v %v", rec, err)
	}
	if rec.State != string(session.StateExported) {
		t.Fatalf("expected persisted EXPORTED, got %s", rec.State)
	}
}

func TestDiscardLeavesNoFilesInEveryState(t *testing.T) {
	cases := map[string]func(*testing.T, *harness) *session.Session{
		"recording": func(t *testing.T, h *harness) *session.Session {
			s, err := h.mgr.StartRecording(context.Background())
			if err != nil {
				t.Fatalf("start recording: %v", err)
			}
			testsupport.WriteFile(t, s.RecordingPath(), 2048)
			return s
		},
		"review_source": func(t *testing.T, h *harness) *session.Session { return h.importVideo(t) },
		"trim":          func(t *testing.T, h *harness) *session.Session { return h.toTrim(t) },
		"auto_detect":   func(t *testing.T, h *harness) *session.Session { return h.toDetected(t) },
		"manual_pick": func(t *testing.T, h *harness) *session.Session {
			s := h.toTrim(t)
			if err := s.ChooseManual(); err != nil {
				t.Fatalf("choose manual: %v", err)
			}
			if _, err := s.Capture(context.Background(), 3000); err != nil {
				t.Fatalf("capture: %v", err)
			}
			return s
		},
		"page_review": func(t *testing.T, h *harness) *session.Session {
			s := h.toDetected(t)
			if err := s.Review(); err != nil {
				t.Fatalf("review: %v", err)
			}
			return s
		},
		"export_setup": func(t *testing.T, h *harness) *session.Session { return h.toExportSetup(t) },
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			s := setup(t, h)
			scope := s.Snapshot().ScopeDir
			if _, err := os.Stat(scope); err != nil {
				t.Fatalf("scope missing before discard: %v", err)
			}

			if err := s.Discard(); err != nil {
				t.Fatalf("discard: %v", err)
			}
			assertGone(t, scope)
			if entries := workspaceEntries(t, h.cfg); len(entries) != 0 {
				t.Fatalf("expected empty workspace, found %d entries", len(entries))
			}
			snap := s.Snapshot()
			if snap.State != session.StateDiscarded || len(snap.Pages) != 0 {
				t.Fatalf("unexpected snapshot after discard: state=%s pages=%d", snap.State, len(snap.Pages))
			}
			if err := s.Discard(); err != nil {
				t.Fatalf("second discard: %v", err)
			}
			if h.mgr.Active() != nil {
				t.Fatal("expected manager to release the session")
			}
			if err := s.ConfirmSource(); !errors.Is(err, scanerr.ErrSessionInvariant) {
				t.Fatalf("expected invariant error after discard, got %v", err)
			}
		})
	}
}

func TestDiscardCancelsRunningDetection(t *testing.T) {
	h := newHarness(t, withDelay(20*time.Millisecond))
	s := h.toTrim(t)
	task, err := s.ChooseAutoDetect(1)
	if err != nil {
		t.Fatalf("choose auto detect: %v", err)
	}
	scope := s.Snapshot().ScopeDir

	if err := s.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("detection task did not stop")
	}
	if err := task.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled task, got %v", err)
	}
	assertGone(t, scope)
	if got := len(h.decoder.Calls()); got >= detect.SampleCount(1) {
		t.Fatalf("expected decoding to stop early, saw %d calls", got)
	}
}

func TestCommandsRejectedWhileDetecting(t *testing.T) {
	h := newHarness(t, withDelay(20*time.Millisecond))
	s := h.toTrim(t)
	task, err := s.ChooseAutoDetect(1)
	if err != nil {
		t.Fatalf("choose auto detect: %v", err)
	}

	if _, err := s.Frame(context.Background(), 1000); !errors.Is(err, scanerr.ErrBusy) {
		t.Fatalf("expected busy frame request, got %v", err)
	}
	if err := s.Review(); !errors.Is(err, scanerr.ErrBusy) {
		t.Fatalf("expected busy review, got %v", err)
	}
	if _, err := s.ConfirmOrder(); !errors.Is(err, scanerr.ErrBusy) {
		t.Fatalf("expected busy confirm, got %v", err)
	}
	if _, err := s.Redetect(0.5); !errors.Is(err, scanerr.ErrBusy) {
		t.Fatalf("expected busy redetect, got %v", err)
	}
	if snap := s.Snapshot(); snap.Task != session.TaskDetection {
		t.Fatalf("expected detection task in snapshot, got %q", snap.Task)
	}

	if !s.CancelTask() {
		t.Fatal("expected a running task to cancel")
	}
	if err := task.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled detection, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StateAutoDetect || len(snap.Pages) != 0 || snap.LastError != "" {
		t.Fatalf("unexpected snapshot after cancel: state=%s pages=%d err=%q", snap.State, len(snap.Pages), snap.LastError)
	}
	if s.CancelTask() {
		t.Fatal("expected no task after cancellation")
	}
}

func TestRedetectReplacesCandidates(t *testing.T) {
	h := newHarness(t)
	s := h.toDetected(t)
	before := s.Snapshot().Pages
	if err := s.Review(); err != nil {
		t.Fatalf("review: %v", err)
	}

	task, err := s.Redetect(0)
	if err != nil {
		t.Fatalf("redetect: %v", err)
	}
	if err := task.Wait(); err != nil {
		t.Fatalf("redetect wait: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StateAutoDetect || snap.Density != 0 {
		t.Fatalf("unexpected state after redetect: %s density=%v", snap.State, snap.Density)
	}
	if len(snap.Pages) != detect.SampleCount(0) {
		t.Fatalf("expected %d candidates, got %d", detect.SampleCount(0), len(snap.Pages))
	}
	old := make(map[string]bool, len(before))
	for _, p := range before {
		old[p.ID] = true
	}
	for _, p := range snap.Pages {
		if old[p.ID] {
			t.Fatalf("page %s survived redetection", p.ID)
		}
	}
	thumbs, err := os.ReadDir(filepath.Join(snap.ScopeDir, "pages"))
	if err != nil {
		t.Fatalf("read thumbnails: %v", err)
	}
	if len(thumbs) != len(snap.Pages) {
		t.Fatalf("expected %d thumbnails, found %d", len(snap.Pages), len(thumbs))
	}
}

func TestSetTrimValidation(t *testing.T) {
	h := newHarness(t)
	s := h.importVideo(t)
	if err := s.SetTrim(0, 5000); !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected invariant error before TRIM, got %v", err)
	}
	if err := s.ConfirmSource(); err != nil {
		t.Fatalf("confirm source: %v", err)
	}
	if got := s.Snapshot().Trim; got != (detect.Range{StartMS: 0, EndMS: 10000}) {
		t.Fatalf("expected full trim by default, got %+v", got)
	}

	bad := [][2]int64{{-1, 5000}, {5000, 5000}, {6000, 5000}, {0, 10001}, {0, 1000}}
	for _, r := range bad {
		if err := s.SetTrim(r[0], r[1]); !errors.Is(err, scanerr.ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", r, err)
		}
	}
	if err := s.SetTrim(1000, 9000); err != nil {
		t.Fatalf("set trim: %v", err)
	}
	if got := s.Snapshot().Trim; got != (detect.Range{StartMS: 1000, EndMS: 9000}) {
		t.Fatalf("unexpected trim: %+v", got)
	}
	rec, err := h.store.GetSession(context.Background(), s.ID())
	if err != nil || rec == nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.TrimStartMS != 1000 || rec.TrimEndMS != 9000 || rec.State != string(session.StateTrim) {
		t.Fatalf("unexpected persisted session: %+v", rec)
	}
}

func TestManualPickFlow(t *testing.T) {
	frames := testsupport.ScenarioFrames()
	frames[4] = nil
	h := newHarness(t, withFrames(frames))
	s := h.toTrim(t)
	if err := s.SetTrim(1000, 9000); err != nil {
		t.Fatalf("set trim: %v", err)
	}
	if _, err := s.Capture(context.Background(), 3000); !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected invariant error before MANUAL_PICK, got %v", err)
	}
	if err := s.ChooseManual(); err != nil {
		t.Fatalf("choose manual: %v", err)
	}
	if _, err := s.ChooseAutoDetect(0.5); !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected branch to be fixed, got %v", err)
	}

	if _, err := s.Capture(context.Background(), 500); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected capture outside trim rejected, got %v", err)
	}
	if _, err := s.Capture(context.Background(), 2200); !errors.Is(err, scanerr.ErrDecode) || !scanerr.Retryable(err) {
		t.Fatalf("expected retryable decode error, got %v", err)
	}

	var ids []string
	for _, ms := range []int64{1500, 3000, 6000} {
		page, err := s.Capture(context.Background(), ms)
		if err != nil {
			t.Fatalf("capture %d: %v", ms, err)
		}
		if page.Source != selection.SourceManual || !page.Selected {
			t.Fatalf("unexpected manual page: %+v", page)
		}
		ids = append(ids, page.ID)
	}
	if _, err := s.TogglePage(ids[0]); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected toggle rejected for manual page, got %v", err)
	}

	if err := s.Review(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := s.MovePage(2, 0); err != nil {
		t.Fatalf("move page: %v", err)
	}
	order, err := s.ConfirmOrder()
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	want := []string{ids[2], ids[0], ids[1]}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected confirmed order %v, want %v", order, want)
		}
	}
	if err := s.SetEdit(ids[1], selection.Edit{Rotation: 90, Filter: selection.FilterEnhanced, AutoFix: true, Crop: imaging.Rect{Left: 0.1, Top: 0.1, Right: 0.9, Bottom: 0.9}}); err != nil {
		t.Fatalf("set edit: %v", err)
	}
	if err := s.SetEdit(ids[1], selection.Edit{Rotation: 45}); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected invalid rotation rejected, got %v", err)
	}

	if err := s.Process(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StateExportSetup {
		t.Fatalf("expected EXPORT_SETUP, got %s", snap.State)
	}
	for _, id := range ids {
		if _, err := os.Stat(filepath.Join(snap.ScopeDir, "processed", id+".jpg")); err != nil {
			t.Fatalf("processed page %s missing: %v", id, err)
		}
	}
	cropped, err := imaging.Load(filepath.Join(snap.ScopeDir, "processed", ids[1]+".jpg"))
	if err != nil {
		t.Fatalf("load processed page: %v", err)
	}
	if cropped.Width() >= testsupport.FrameWidth || cropped.Height() >= testsupport.FrameHeight {
		t.Fatalf("expected cropped page, got %dx%d", cropped.Width(), cropped.Height())
	}

	res, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", res.Pages)
	}
}

func TestProcessRequiresSelection(t *testing.T) {
	h := newHarness(t)
	s := h.toDetected(t)
	for _, p := range s.Snapshot().Pages {
		if p.Selected {
			if _, err := s.TogglePage(p.ID); err != nil {
				t.Fatalf("toggle: %v", err)
			}
		}
	}
	if err := s.Process(context.Background()); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := s.Snapshot().State; got != session.StateAutoDetect {
		t.Fatalf("expected state unchanged, got %s", got)
	}
}

func TestProcessCancelReturnsToReview(t *testing.T) {
	h := newHarness(t)
	s := h.toDetected(t)
	if err := s.Review(); err != nil {
		t.Fatalf("review: %v", err)
	}
	// Slow decoding so the cancelled context wins the race with processing.
	h.decoder.Delay = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Process(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StatePageReview || snap.LastError != "" {
		t.Fatalf("unexpected snapshot after cancelled processing: state=%s err=%q", snap.State, snap.LastError)
	}
	processed, err := os.ReadDir(filepath.Join(snap.ScopeDir, "processed"))
	if err != nil {
		t.Fatalf("read processed: %v", err)
	}
	if len(processed) != 0 {
		t.Fatalf("expected processed dir cleared, found %d files", len(processed))
	}
}

func TestExportFailureStaysInExportSetup(t *testing.T) {
	h := newHarness(t)
	s := h.toExportSetup(t)

	blocker := filepath.Join(testsupport.BaseDir(h.cfg), "not-a-dir")
	testsupport.WriteFile(t, blocker, 16)
	if err := s.SetOutputDir(filepath.Join(blocker, "out")); err != nil {
		t.Fatalf("set output dir: %v", err)
	}
	if _, err := s.Export(context.Background()); !errors.Is(err, scanerr.ErrExport) {
		t.Fatalf("expected export error, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StateExportSetup || snap.ErrorKind != "export" || snap.LastError == "" {
		t.Fatalf("unexpected snapshot after failed export: %+v", snap)
	}
	if _, err := os.Stat(snap.ScopeDir); err != nil {
		t.Fatalf("scope removed after failed export: %v", err)
	}

	if err := s.SetOutputDir(h.cfg.Paths.OutputDir); err != nil {
		t.Fatalf("set output dir: %v", err)
	}
	res, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("retry export: %v", err)
	}
	if res.Pages != 11 {
		t.Fatalf("expected 11 pages, got %d", res.Pages)
	}
}

// gatedExporter runs the real assembler but parks the first export at a
// fixed point until release is closed, so a test can act while the export
// is in flight.
type gatedExporter struct {
	inner      *pdfexport.Assembler
	afterWrite bool
	parked     chan struct{}
	release    chan struct{}
	once       sync.Once
}

func newGatedExporter(afterWrite bool) *gatedExporter {
	return &gatedExporter{
		inner:      pdfexport.New(logging.NewNop(), pdfexport.Options{}),
		afterWrite: afterWrite,
		parked:     make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedExporter) park() {
	g.once.Do(func() {
		close(g.parked)
		<-g.release
	})
}

func (g *gatedExporter) Assemble(ctx context.Context, pages []pdfexport.PageInput, profile pdfexport.Profile, destDir string, progress pdfexport.ProgressFunc) (pdfexport.Result, error) {
	if g.afterWrite {
		res, err := g.inner.Assemble(context.WithoutCancel(ctx), pages, profile, destDir, progress)
		g.park()
		return res, err
	}
	return g.inner.Assemble(ctx, pages, profile, destDir, func(f float64) {
		if progress != nil {
			progress(f)
		}
		g.park()
	})
}

func waitParked(t *testing.T, g *gatedExporter) {
	t.Helper()
	select {
	case <-g.parked:
	case <-time.After(10 * time.Second):
		t.Fatal("export never started")
	}
}

func waitForState(t *testing.T, s *session.Session, want session.State) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for s.Snapshot().State != want {
		if time.Now().After(deadline) {
			t.Fatalf("state %s never reached, at %s", want, s.Snapshot().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func outputEntries(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	entries, err := os.ReadDir(cfg.Paths.OutputDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read output dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCancelExportStaysInExportSetup(t *testing.T) {
	gate := newGatedExporter(false)
	h := newHarness(t, withExporter(gate))
	s := h.toExportSetup(t)

	task, err := s.StartExport()
	if err != nil {
		t.Fatalf("start export: %v", err)
	}
	waitParked(t, gate)
	if !s.CancelTask() {
		t.Fatal("expected a running export to cancel")
	}
	close(gate.release)
	if err := task.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	snap := s.Snapshot()
	if snap.State != session.StateExportSetup || snap.Task != "" || snap.LastError != "" || snap.Export != nil {
		t.Fatalf("unexpected snapshot after cancelled export: %+v", snap)
	}
	if names := outputEntries(t, h.cfg); len(names) != 0 {
		t.Fatalf("cancelled export left files: %v", names)
	}
	if _, err := os.Stat(snap.ScopeDir); err != nil {
		t.Fatalf("scope removed after cancelled export: %v", err)
	}

	res, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("retry export: %v", err)
	}
	if res.Pages != 11 {
		t.Fatalf("expected 11 pages, got %d", res.Pages)
	}
}

func TestDiscardDuringExport(t *testing.T) {
	cases := []struct {
		name       string
		afterWrite bool
	}{
		{"while rendering", false},
		{"after the pdf was placed", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := newGatedExporter(tc.afterWrite)
			h := newHarness(t, withExporter(gate))
			s := h.toExportSetup(t)

			task, err := s.StartExport()
			if err != nil {
				t.Fatalf("start export: %v", err)
			}
			waitParked(t, gate)

			discarded := make(chan error, 1)
			go func() { discarded <- s.Discard() }()
			waitForState(t, s, session.StateDiscarded)
			close(gate.release)

			if err := <-discarded; err != nil {
				t.Fatalf("discard: %v", err)
			}
			if err := task.Wait(); err == nil {
				t.Fatal("expected the export task to report it did not finish")
			}
			if names := outputEntries(t, h.cfg); len(names) != 0 {
				t.Fatalf("discarded export left files: %v", names)
			}
			if entries := workspaceEntries(t, h.cfg); len(entries) != 0 {
				t.Fatalf("workspace not empty: %d entries", len(entries))
			}
			records, err := h.store.ListExports(context.Background(), 10)
			if err != nil {
				t.Fatalf("list exports: %v", err)
			}
			if len(records) != 0 {
				t.Fatalf("discarded export recorded in history: %+v", records)
			}
			if snap := s.Snapshot(); snap.State != session.StateDiscarded || snap.Export != nil {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
		})
	}
}

func TestExportCollisionKeepsExistingFile(t *testing.T) {
	h := newHarness(t)
	existing := filepath.Join(h.cfg.Paths.OutputDir, pdfexport.DefaultStem+".pdf")
	testsupport.WriteFile(t, existing, 32)

	s := h.toExportSetup(t)
	res, err := s.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(res.Path) != pdfexport.DefaultStem+"_1.pdf" {
		t.Fatalf("unexpected export name %s", res.Path)
	}
	info, err := os.Stat(existing)
	if err != nil || info.Size() != 32 {
		t.Fatalf("existing file changed: %v", err)
	}
}

func TestStartingSessionDiscardsPrevious(t *testing.T) {
	h := newHarness(t)
	first := h.toDetected(t)
	firstScope := first.Snapshot().ScopeDir

	second, err := h.mgr.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if first.Snapshot().State != session.StateDiscarded {
		t.Fatalf("expected previous session discarded, got %s", first.Snapshot().State)
	}
	assertGone(t, firstScope)
	if h.mgr.Active() != second {
		t.Fatal("expected the new session to be active")
	}
	if entries := workspaceEntries(t, h.cfg); len(entries) != 1 || entries[0].Name() != second.ID() {
		t.Fatalf("expected only the new scope, got %v", entries)
	}
}

func TestAttachRecording(t *testing.T) {
	h := newHarness(t)
	s, err := h.mgr.StartRecording(context.Background())
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := s.AttachRecording(context.Background(), ""); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected missing recording rejected, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != session.StateRecording || snap.LastError == "" {
		t.Fatalf("expected error attached in RECORDING, got %+v", snap)
	}

	testsupport.WriteFile(t, s.RecordingPath(), 2048)
	if err := s.AttachRecording(context.Background(), ""); err != nil {
		t.Fatalf("attach recording: %v", err)
	}
	snap = s.Snapshot()
	if snap.State != session.StateReviewSource || snap.LastError != "" || snap.Mode != session.ModeRecording {
		t.Fatalf("unexpected snapshot after attach: %+v", snap)
	}
	if _, err := s.Frame(context.Background(), 2500); err != nil {
		t.Fatalf("scrub frame: %v", err)
	}
	if err := s.AttachRecording(context.Background(), ""); !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected second attach rejected, got %v", err)
	}
}

func TestImportRejectsShortVideo(t *testing.T) {
	h := newHarness(t, withDuration(1500))
	src := filepath.Join(testsupport.BaseDir(h.cfg), "input", "short.mp4")
	testsupport.WriteFile(t, src, 1024)

	if _, err := h.mgr.StartImport(context.Background(), src); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.mgr.Active() != nil {
		t.Fatal("expected no active session")
	}
	if entries := workspaceEntries(t, h.cfg); len(entries) != 0 {
		t.Fatalf("expected failed import to leave no scope, found %d", len(entries))
	}
	if _, err := h.mgr.StartImport(context.Background(), filepath.Join(testsupport.BaseDir(h.cfg), "missing.mp4")); !errors.Is(err, scanerr.ErrValidation) {
		t.Fatalf("expected missing source rejected, got %v", err)
	}
}

func TestImportCopiesSource(t *testing.T) {
	h := newHarness(t)
	s := h.importVideo(t)
	snap := s.Snapshot()
	copied := filepath.Join(snap.ScopeDir, "source", "import.mp4")
	info, err := os.Stat(copied)
	if err != nil || info.Size() != 4096 {
		t.Fatalf("expected copied source, got %v", err)
	}
	if filepath.Base(snap.SourcePath) != "pages.mp4" {
		t.Fatalf("expected original path in snapshot, got %s", snap.SourcePath)
	}
}

func TestSubscribeDeliversLatestAndCloses(t *testing.T) {
	h := newHarness(t)
	s := h.importVideo(t)
	ch, stop := s.Subscribe()
	defer stop()

	first := <-ch
	if first.State != session.StateReviewSource {
		t.Fatalf("expected current snapshot first, got %s", first.State)
	}
	if err := s.ConfirmSource(); err != nil {
		t.Fatalf("confirm source: %v", err)
	}
	if err := s.SetTrim(1000, 8000); err != nil {
		t.Fatalf("set trim: %v", err)
	}
	latest := <-ch
	if latest.Version <= first.Version || latest.Trim.EndMS != 8000 {
		t.Fatalf("expected latest snapshot, got version %d trim %+v", latest.Version, latest.Trim)
	}

	if err := s.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}
	var last session.Snapshot
	for snap := range ch {
		last = snap
	}
	if last.State != session.StateDiscarded {
		t.Fatalf("expected final DISCARDED snapshot, got %s", last.State)
	}
}

func TestManagerLockIsExclusive(t *testing.T) {
	h := newHarness(t)
	other, err := session.NewManager(h.cfg, session.Options{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := other.Open(context.Background()); !errors.Is(err, scanerr.ErrBusy) {
		t.Fatalf("expected busy workspace, got %v", err)
	}

	if err := h.mgr.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}
	if err := other.Open(context.Background()); err != nil {
		t.Fatalf("open after release: %v", err)
	}
	if err := other.Close(); err != nil {
		t.Fatalf("close other: %v", err)
	}
}

func TestManagerRequiresOpen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr, err := session.NewManager(cfg, session.Options{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.StartRecording(context.Background()); !errors.Is(err, scanerr.ErrSessionInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

const orphanID = "0b1e4c7a-9d2f-4e81-a6b3-5c7d9e1f2a48"

func TestOpenSweepsOrphansAndAbandonsRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	orphan := filepath.Join(cfg.Paths.WorkspaceDir, orphanID)
	testsupport.WriteFile(t, filepath.Join(orphan, "pages", "a.jpg"), 128)
	testsupport.WriteFile(t, filepath.Join(orphan, "source", "import.mp4"), 512)
	userPDF := filepath.Join(cfg.Paths.WorkspaceDir, "scan.pdf")
	testsupport.WriteFile(t, userPDF, 256)
	foreign := filepath.Join(cfg.Paths.WorkspaceDir, "notes", "todo.txt")
	testsupport.WriteFile(t, foreign, 16)

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.SaveSession(ctx, store.SessionRecord{ID: orphanID, State: string(session.StatePageReview), ScopeDir: orphan}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	mgr, err := session.NewManager(cfg, session.Options{Store: st})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Open(ctx); err != nil {
		t.Fatalf("open manager: %v", err)
	}
	defer mgr.Close()

	assertGone(t, orphan)
	for _, path := range []string{userPDF, foreign} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("startup sweep removed %s: %v", path, err)
		}
	}
	rec, err := st.GetSession(ctx, orphanID)
	if err != nil || rec == nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.State != store.StateDiscarded {
		t.Fatalf("expected abandoned row discarded, got %s", rec.State)
	}
}

func TestManagerSweepKeepsLiveScope(t *testing.T) {
	h := newHarness(t)
	s := h.importVideo(t)
	stray := filepath.Join(h.cfg.Paths.WorkspaceDir, orphanID)
	testsupport.WriteFile(t, filepath.Join(stray, "x.jpg"), 64)

	res := h.mgr.Sweep(context.Background())
	if !res.OK() || len(res.Removed) != 1 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	assertGone(t, stray)
	if _, err := os.Stat(s.Snapshot().ScopeDir); err != nil {
		t.Fatalf("live scope removed: %v", err)
	}
}
