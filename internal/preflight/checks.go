package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"videos2pdf/internal/config"
	"videos2pdf/internal/deps"
	"videos2pdf/internal/scanerr"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the decoding binaries named by the config.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for frame decoding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for video duration probing",
		},
	}
	return deps.CheckBinaries(requirements)
}

// CheckTools returns an ErrExternalTool error naming the first required
// binary that is missing.
func CheckTools(ctx context.Context, cfg *config.Config) error {
	for _, status := range CheckSystemDeps(ctx, cfg) {
		if !status.Available && !status.Optional {
			return scanerr.Wrap(scanerr.ErrExternalTool, "preflight", status.Name, status.Detail, nil)
		}
	}
	return nil
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path. A missing path is resolved to its nearest
// existing parent.
func FreeBytes(path string) (uint64, error) {
	target, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(target, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", target, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckFreeSpace fails with ErrLowStorage when the filesystem holding dir has
// less than minBytes available. A zero floor disables the check.
func CheckFreeSpace(dir string, minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	free, err := FreeBytes(dir)
	if err != nil {
		return scanerr.Wrap(scanerr.ErrLowStorage, "preflight", "free space", "unable to determine free space", err)
	}
	if free < minBytes {
		return scanerr.Wrap(scanerr.ErrLowStorage, "preflight", "free space",
			fmt.Sprintf("%s free at %s, %s required", humanize.IBytes(free), dir, humanize.IBytes(minBytes)), nil)
	}
	return nil
}

// MiB converts a config floor in MiB to bytes; negative values disable it.
func MiB(n int) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64(n) << 20
}

func existingAncestor(path string) (string, error) {
	current := filepath.Clean(path)
	for {
		if _, err := os.Stat(current); err == nil {
			return current, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		current = parent
	}
}
