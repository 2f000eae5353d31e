package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"videos2pdf/internal/session"
	"videos2pdf/internal/staging"
)

func newScopesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List session scope directories in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dirs, err := staging.ListDirectories(cfg.Paths.WorkspaceDir)
			if err != nil {
				return fmt.Errorf("list scopes: %w", err)
			}
			if dirs == nil {
				dirs = []staging.DirInfo{}
			}
			var total int64
			for _, dir := range dirs {
				total += dir.Size
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"workspace_dir":    cfg.Paths.WorkspaceDir,
					"scopes":           dirs,
					"total_size_bytes": total,
				})
			}
			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No session scopes found")
				return nil
			}
			fmt.Fprintf(out, "Workspace: %s\n\n", cfg.Paths.WorkspaceDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{
					dir.Name,
					humanize.Time(dir.ModTime),
					fmt.Sprintf("%d", dir.Files),
					humanize.IBytes(uint64(dir.Size)),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Session", "Modified", "Files", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				fmt.Sprintf("%d scopes", len(dirs)), "", "", humanize.IBytes(uint64(total)),
			))
			return nil
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete scopes left behind by sessions that are no longer running",
		Long: `Delete every session scope in the workspace.

A running videos2pdf process holds the workspace lock; sweep refuses to run
while it does, so a live session is never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(cmd, func(mgr *session.Manager) error {
				return printSweepResult(cmd, ctx, mgr.StartupSweep())
			})
		},
	}
}

func printSweepResult(cmd *cobra.Command, ctx *commandContext, result staging.SweepResult) error {
	if ctx.JSONMode() {
		errs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
		}
		removed := result.Removed
		if removed == nil {
			removed = []string{}
		}
		return writeJSON(cmd, map[string]any{
			"removed": removed,
			"errors":  errs,
		})
	}
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintln(out, "No scopes to remove")
		return nil
	}
	fmt.Fprintf(out, "Removed %d scopes", len(result.Removed))
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, ", %d errors\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return nil
	}
	fmt.Fprintln(out)
	return nil
}
