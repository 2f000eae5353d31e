package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"videos2pdf/internal/logging"
)

// SweepResult contains the outcome of a sweep.
type SweepResult struct {
	Removed []string
	Kept    []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// OK reports whether every removal succeeded.
func (r SweepResult) OK() bool { return len(r.Errors) == 0 }

// Sweep deletes every scope directory under root whose name is not in live.
// Only directories named by a session id are touched; plain files and other
// directories are left alone. Scopes are removed file by file; a file that
// cannot be deleted is recorded and the sweep continues with the rest.
func Sweep(ctx context.Context, root string, live map[string]struct{}, logger *slog.Logger) SweepResult {
	return sweep(ctx, root, logger, "orphaned", func(entry fs.DirEntry) bool {
		_, ok := live[entry.Name()]
		return ok
	})
}

// ScopeName reports whether name is a session id in canonical form.
func ScopeName(name string) bool {
	id, err := uuid.Parse(name)
	return err == nil && id.String() == name
}

// RemoveScope deletes one scope directory, best effort.
func RemoveScope(ctx context.Context, dir string, logger *slog.Logger) SweepResult {
	result := SweepResult{}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}
	errs := removeTree(dir)
	result.Errors = append(result.Errors, errs...)
	if len(errs) == 0 {
		result.Removed = append(result.Removed, dir)
	}
	logOutcome(logger, dir, "session", errs)
	return result
}

func sweep(ctx context.Context, root string, logger *slog.Logger, reason string, keep func(fs.DirEntry) bool) SweepResult {
	result := SweepResult{}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() || !ScopeName(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if keep(entry) {
			result.Kept = append(result.Kept, path)
			continue
		}
		errs := removeTree(path)
		if len(errs) == 0 {
			result.Removed = append(result.Removed, path)
		}
		result.Errors = append(result.Errors, errs...)
		logOutcome(logger, path, reason, errs)
	}

	return result
}

// removeTree deletes files individually, then directories deepest first, so
// one stuck file does not keep its siblings on disk.
func removeTree(path string) []CleanupError {
	var errs []CleanupError
	var dirs []string
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, CleanupError{Path: p, Error: err})
			}
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, CleanupError{Path: p, Error: err})
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		errs = append(errs, CleanupError{Path: path, Error: walkErr})
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, CleanupError{Path: dirs[i], Error: err})
		}
	}
	return errs
}

func logOutcome(logger *slog.Logger, path, reason string, errs []CleanupError) {
	if logger == nil {
		return
	}
	if len(errs) > 0 {
		logger.Warn("failed to remove scope entries",
			logging.String("path", path),
			logging.String("reason", reason),
			logging.Int("failures", len(errs)),
			logging.Error(errs[0].Error),
			logging.String(logging.FieldEventType, "scope_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "check workspace_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return
	}
	logger.Info("removed scope",
		logging.String("path", path),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "scope_cleanup"),
	)
}

// ListDirectories returns the scope directories under root with their metadata.
func ListDirectories(root string) ([]DirInfo, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !ScopeName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		dirPath := filepath.Join(root, entry.Name())
		size, files := dirSize(dirPath)

		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
			Files:   files,
		})
	}

	return dirs, nil
}

// DirInfo contains metadata about a scope directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
	Files   int
}

// dirSize calculates the total size and file count of a directory recursively.
func dirSize(path string) (int64, int) {
	var size int64
	var files int
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
			files++
		}
		return nil
	})
	return size, files
}
