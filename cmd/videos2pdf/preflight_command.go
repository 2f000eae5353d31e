package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"videos2pdf/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, decoding tools and free space",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			failed := 0
			for _, r := range results {
				if !r.Passed {
					failed++
				}
			}

			if ctx.JSONMode() {
				checks := make([]map[string]any, 0, len(results))
				for _, r := range results {
					checks = append(checks, map[string]any{"name": r.Name, "passed": r.Passed, "detail": r.Detail})
				}
				if err := writeJSON(cmd, map[string]any{"checks": checks, "failed": failed}); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Check", "Status", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			if failed > 0 {
				return fmt.Errorf("%d preflight checks failed", failed)
			}
			return nil
		},
	}
}
