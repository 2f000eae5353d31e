package preflight

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"videos2pdf/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the directory, tool and free-space checks for the config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Workspace", cfg.Paths.WorkspaceDir),
		CheckDirectoryAccess("Output", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State", cfg.Paths.StateDir),
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		detail := status.Detail
		if status.Available {
			detail = fmt.Sprintf("%s (%s)", status.Command, status.Description)
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}

	results = append(results, freeSpaceResult("Workspace space", cfg.Paths.WorkspaceDir, MiB(cfg.Session.MinRecordFreeMiB)))
	results = append(results, freeSpaceResult("Output space", cfg.Paths.OutputDir, MiB(cfg.Export.MinFreeMiB)))
	return results
}

func freeSpaceResult(name, dir string, floor uint64) Result {
	free, err := FreeBytes(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	detail := fmt.Sprintf("%s free (%s required)", humanize.IBytes(free), humanize.IBytes(floor))
	return Result{Name: name, Passed: free >= floor, Detail: detail}
}
