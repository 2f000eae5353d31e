package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"videos2pdf/internal/store"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List exported PDFs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				records, err := st.ListExports(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					if records == nil {
						records = []store.ExportRecord{}
					}
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No exports yet")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						humanize.Time(rec.CreatedAt),
						fmt.Sprintf("%d", rec.PageCount),
						humanize.IBytes(uint64(rec.SizeBytes)),
						rec.Preset,
						rec.PageSize,
						yesNo(rec.Grayscale),
						rec.Path,
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Exported", "Pages", "Size", "Preset", "Paper", "Gray", "Path"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of exports to list (0 for all)")
	return cmd
}
