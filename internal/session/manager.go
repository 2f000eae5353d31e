package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"videos2pdf/internal/config"
	"videos2pdf/internal/detect"
	"videos2pdf/internal/fileutil"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/media/ffprobe"
	"videos2pdf/internal/pdfexport"
	"videos2pdf/internal/preflight"
	"videos2pdf/internal/sampler"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/staging"
	"videos2pdf/internal/store"
)

// Prober returns the playable duration of a video in milliseconds.
type Prober func(ctx context.Context, path string) (int64, error)

// FFprobeProber probes durations with the ffprobe binary.
func FFprobeProber(binary string) Prober {
	return func(ctx context.Context, path string) (int64, error) {
		res, err := ffprobe.Inspect(ctx, binary, path)
		if err != nil {
			var execErr *exec.Error
			if errors.As(err, &execErr) {
				return 0, scanerr.Wrap(scanerr.ErrExternalTool, "source", "probe", "ffprobe not runnable", err)
			}
			return 0, scanerr.Wrap(scanerr.ErrDecode, "source", "probe", filepath.Base(path), err)
		}
		ms, err := res.DurationMillis()
		if err != nil {
			return 0, scanerr.Wrap(scanerr.ErrDecode, "source", "probe", filepath.Base(path), err)
		}
		return ms, nil
	}
}

// Exporter writes a session's processed pages as one PDF in destDir.
// *pdfexport.Assembler is the production implementation.
type Exporter interface {
	Assemble(ctx context.Context, pages []pdfexport.PageInput, profile pdfexport.Profile, destDir string, progress pdfexport.ProgressFunc) (pdfexport.Result, error)
}

// Options wires collaborators into a Manager. Zero values select the ffmpeg
// decoder, the ffprobe prober, the PDF assembler and no persistence.
type Options struct {
	Store    *store.Store
	Decoder  sampler.Decoder
	Prober   Prober
	Exporter Exporter
	Now      func() time.Time
	Logger   *slog.Logger
}

type services struct {
	cfg       *config.Config
	store     *store.Store
	decoder   sampler.Decoder
	probe     Prober
	detector  *detect.Detector
	assembler Exporter
	profile   pdfexport.Profile
	now       func() time.Time
	logger    *slog.Logger
}

// Manager is the session repository. It owns the workspace lock, guarantees
// at most one live session, and sweeps scopes that belong to no live session.
type Manager struct {
	svc  services
	lock *flock.Flock

	mu        sync.Mutex
	active    *Session
	opened    bool
	lastSweep staging.SweepResult
}

// NewManager constructs a manager. Call Open before starting sessions.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("session manager requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = sampler.FFmpegDecoder{Binary: cfg.FFmpegBinary()}
	}
	probe := opts.Prober
	if probe == nil {
		probe = FFprobeProber(cfg.FFprobeBinary())
	}
	profile, err := pdfexport.ProfileFromConfig(cfg.Export)
	if err != nil {
		return nil, err
	}
	exporter := opts.Exporter
	if exporter == nil {
		exporter = pdfexport.New(logger, pdfexport.Options{
			MinFreeBytes: preflight.MiB(cfg.Export.MinFreeMiB),
			MaxPages:     cfg.Export.MaxPages,
			Now:          now,
		})
	}
	return &Manager{
		svc: services{
			cfg:       cfg,
			store:     opts.Store,
			decoder:   decoder,
			probe:     probe,
			detector:  detect.New(detect.ThresholdsFromConfig(cfg.Detection), cfg.Detection.ThumbnailMaxEdge, logger),
			assembler: exporter,
			profile:   profile,
			now:       now,
			logger:    logger,
		},
		lock: flock.New(cfg.LockPath()),
	}, nil
}

// Open takes the workspace lock, marks sessions left open by an earlier
// process as discarded and sweeps every scope on disk.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil
	}
	if err := m.svc.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ok, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return scanerr.Wrap(scanerr.ErrBusy, "session", "open", "another videos2pdf process owns "+m.svc.cfg.Paths.WorkspaceDir, nil)
	}

	if m.svc.store != nil {
		ids, err := m.svc.store.AbandonOpenSessions(ctx, "abandoned at process start")
		if err != nil {
			_ = m.lock.Unlock()
			return err
		}
		if len(ids) > 0 {
			m.svc.logger.Info("abandoned sessions from previous run",
				logging.Int("count", len(ids)),
				logging.String(logging.FieldEventType, "sessions_abandoned"),
			)
		}
	}
	result := staging.Sweep(ctx, m.svc.cfg.Paths.WorkspaceDir, nil, m.svc.logger)
	m.lastSweep = result
	m.svc.logger.Info("startup sweep complete",
		logging.Int("removed", len(result.Removed)),
		logging.Int("failures", len(result.Errors)),
		logging.String(logging.FieldEventType, "startup_sweep"),
	)
	m.opened = true
	return nil
}

// Close discards the live session, if any, and releases the workspace lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		_ = active.Discard()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return nil
	}
	m.opened = false
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("release workspace lock: %w", err)
	}
	return nil
}

// Active returns the live session or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StartupSweep returns the outcome of the sweep run by Open.
func (m *Manager) StartupSweep() staging.SweepResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep
}

// Sweep removes every scope that does not belong to the live session.
func (m *Manager) Sweep(ctx context.Context) staging.SweepResult {
	m.mu.Lock()
	live := map[string]struct{}{}
	if m.active != nil {
		live[m.active.id] = struct{}{}
	}
	m.mu.Unlock()
	return staging.Sweep(ctx, m.svc.cfg.Paths.WorkspaceDir, live, m.svc.logger)
}

// StartRecording discards any live session and starts a new one waiting for
// the capture subsystem to write RecordingPath.
func (m *Manager) StartRecording(ctx context.Context) (*Session, error) {
	if err := preflight.CheckFreeSpace(m.svc.cfg.Paths.WorkspaceDir, preflight.MiB(m.svc.cfg.Session.MinRecordFreeMiB)); err != nil {
		return nil, err
	}
	return m.begin(ctx, ModeRecording)
}

// StartImport discards any live session, copies the video at path into a
// new session scope and opens it. On failure the new session is discarded.
func (m *Manager) StartImport(ctx context.Context, path string) (*Session, error) {
	path = strings.TrimSpace(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, scanerr.Wrap(scanerr.ErrValidation, "session", "import", "source not readable", err)
	}
	if info.IsDir() {
		return nil, scanerr.Wrap(scanerr.ErrValidation, "session", "import", path+" is a directory", nil)
	}
	floor := preflight.MiB(m.svc.cfg.Session.MinRecordFreeMiB)
	if err := preflight.CheckFreeSpace(m.svc.cfg.Paths.WorkspaceDir, floor+uint64(info.Size())); err != nil {
		return nil, err
	}

	s, err := m.begin(ctx, ModeImport)
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(s.scope.source, "import"+strings.ToLower(filepath.Ext(path)))
	if _, err := fileutil.CopyVerified(ctx, path, dst); err != nil {
		_ = s.Discard()
		return nil, scanerr.Wrap(scanerr.ErrValidation, "session", "import", "copy source into scope", err)
	}
	if err := s.openSource(ctx, dst, path); err != nil {
		_ = s.Discard()
		return nil, err
	}
	return s, nil
}

func (m *Manager) begin(ctx context.Context, mode Mode) (*Session, error) {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return nil, scanerr.Wrap(scanerr.ErrSessionInvariant, "session", "start", "manager not opened", nil)
	}
	previous := m.active
	m.mu.Unlock()

	if previous != nil {
		if err := previous.Discard(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active != previous {
		return nil, scanerr.Wrap(scanerr.ErrSessionInvariant, "session", "start", "another session started concurrently", nil)
	}
	if previous != nil {
		if _, err := os.Stat(previous.scope.root); err == nil {
			return nil, scanerr.Wrap(scanerr.ErrSessionInvariant, "session", "start", "previous scope still on disk: "+previous.scope.root, nil)
		}
	}

	id := uuid.NewString()
	sc, err := newScope(m.svc.cfg.Paths.WorkspaceDir, id)
	if err != nil {
		return nil, err
	}
	s, err := newSession(ctx, id, mode, sc, &m.svc, m.release)
	if err != nil {
		_ = staging.RemoveScope(ctx, sc.root, m.svc.logger)
		return nil, err
	}
	m.active = s
	return s, nil
}

// release is called by a session once it reached a terminal state and its
// scope is gone.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}
