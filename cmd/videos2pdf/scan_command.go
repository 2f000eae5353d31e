package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"videos2pdf/internal/config"
	"videos2pdf/internal/detect"
	"videos2pdf/internal/pdfexport"
	"videos2pdf/internal/preflight"
	"videos2pdf/internal/selection"
	"videos2pdf/internal/session"
)

type scanOptions struct {
	density   float64
	start     time.Duration
	end       time.Duration
	at        []time.Duration
	preset    string
	pageSize  string
	grayscale bool
	filter    string
	autoFix   bool
	rotation  int
	name      string
	output    string
}

func (o *scanOptions) bind(cmd *cobra.Command, withExport bool) {
	flags := cmd.Flags()
	flags.Float64Var(&o.density, "density", -1, "Sampling density in [0,1] (default from config)")
	flags.DurationVar(&o.start, "start", 0, "Trim start offset")
	flags.DurationVar(&o.end, "end", 0, "Trim end offset (default: end of video)")
	flags.DurationSliceVar(&o.at, "at", nil, "Capture pages manually at these offsets instead of detecting")
	if !withExport {
		return
	}
	flags.StringVar(&o.preset, "preset", "", "Export preset: EMAIL_FRIENDLY, BALANCED or PRINT")
	flags.StringVar(&o.pageSize, "page-size", "", "Page size: AUTO, A4, LETTER or LEGAL")
	flags.BoolVar(&o.grayscale, "grayscale", false, "Export every page in grayscale")
	flags.StringVar(&o.filter, "filter", "", "Page filter: ORIGINAL, GRAYSCALE or ENHANCED")
	flags.BoolVar(&o.autoFix, "auto-fix", false, "Stretch page levels before export")
	flags.IntVar(&o.rotation, "rotate", 0, "Rotate every page clockwise by 0, 90, 180 or 270 degrees")
	flags.StringVarP(&o.name, "name", "n", "", "PDF file name without extension")
	flags.StringVarP(&o.output, "output", "o", "", "Destination directory (default from config)")
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan <video>",
		Short: "Import a video, pick its pages and export a PDF",
		Long: `Import a video of flipped pages, select pages and export them as a PDF.

By default pages are found by the detector: every sharp, non-duplicate frame
in the trim range is selected. Use --at to capture pages at fixed offsets
instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runScan(cmd, args[0], opts, true)
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "detect <video>",
		Short: "List candidate pages without exporting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runScan(cmd, args[0], opts, false)
		},
	}
	opts.bind(cmd, false)
	return cmd
}

type scanReport struct {
	Session    string            `json:"session"`
	DurationMS int64             `json:"duration_ms"`
	Trim       detect.Range      `json:"trim"`
	Pages      []selection.Page  `json:"pages"`
	Excluded   map[string]int    `json:"excluded"`
	Export     *pdfexport.Result `json:"export,omitempty"`
}

func (c *commandContext) runScan(cmd *cobra.Command, path string, opts scanOptions, export bool) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	profile, err := scanProfile(cfg, opts)
	if err != nil {
		return err
	}
	edit, err := scanEdit(opts)
	if err != nil {
		return err
	}

	if c.decoder == nil || c.prober == nil {
		if err := preflight.CheckTools(cmd.Context(), cfg); err != nil {
			return err
		}
	}

	return c.withManager(cmd, func(mgr *session.Manager) error {
		s, err := mgr.StartImport(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer s.Discard()

		if err := s.ConfirmSource(); err != nil {
			return err
		}
		if err := applyTrim(s, opts); err != nil {
			return err
		}
		if err := c.selectPages(cmd, s, cfg, opts); err != nil {
			return err
		}

		report := newScanReport(s.Snapshot())
		if !export {
			if c.JSONMode() {
				return writeJSON(cmd, report)
			}
			printCandidates(cmd, s.Snapshot())
			return nil
		}
		if !c.JSONMode() {
			printCandidates(cmd, s.Snapshot())
		}

		if edit != selection.DefaultEdit() {
			for _, p := range s.Snapshot().Pages {
				if !p.Selected {
					continue
				}
				if err := s.SetEdit(p.ID, edit); err != nil {
					return err
				}
			}
		}
		if err := s.Review(); err != nil {
			return err
		}
		task, err := s.StartProcessing()
		if err != nil {
			return err
		}
		if err := c.followTask(cmd, s, task, "processing"); err != nil {
			return err
		}
		if err := s.SetProfile(profile); err != nil {
			return err
		}
		if out := strings.TrimSpace(opts.output); out != "" {
			expanded, err := config.ExpandPath(out)
			if err != nil {
				return err
			}
			if err := s.SetOutputDir(expanded); err != nil {
				return err
			}
		}
		task, err = s.StartExport()
		if err != nil {
			return err
		}
		if err := c.followTask(cmd, s, task, "exporting"); err != nil {
			return err
		}
		final := s.Snapshot()
		if final.Export == nil {
			return errors.New("export finished without a result")
		}
		report.Export = final.Export
		if c.JSONMode() {
			return writeJSON(cmd, report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d pages, %s)\n",
			final.Export.Path, final.Export.Pages, humanize.IBytes(uint64(final.Export.SizeBytes)))
		return nil
	})
}

func applyTrim(s *session.Session, opts scanOptions) error {
	if opts.start == 0 && opts.end == 0 {
		return nil
	}
	end := opts.end.Milliseconds()
	if end == 0 {
		end = s.Snapshot().DurationMS
	}
	return s.SetTrim(opts.start.Milliseconds(), end)
}

func (c *commandContext) selectPages(cmd *cobra.Command, s *session.Session, cfg *config.Config, opts scanOptions) error {
	if len(opts.at) > 0 {
		if err := s.ChooseManual(); err != nil {
			return err
		}
		for _, offset := range opts.at {
			if _, err := s.Capture(cmd.Context(), offset.Milliseconds()); err != nil {
				return fmt.Errorf("capture at %s: %w", offset, err)
			}
		}
		return nil
	}
	density := opts.density
	if density < 0 {
		density = cfg.Detection.Density
	}
	task, err := s.ChooseAutoDetect(density)
	if err != nil {
		return err
	}
	return c.followTask(cmd, s, task, "detecting")
}

func scanProfile(cfg *config.Config, opts scanOptions) (pdfexport.Profile, error) {
	profile, err := pdfexport.ProfileFromConfig(cfg.Export)
	if err != nil {
		return pdfexport.Profile{}, err
	}
	if opts.preset != "" {
		if profile.Preset, err = pdfexport.ParsePreset(opts.preset); err != nil {
			return pdfexport.Profile{}, err
		}
	}
	if opts.pageSize != "" {
		if profile.PageSize, err = pdfexport.ParsePageSize(opts.pageSize); err != nil {
			return pdfexport.Profile{}, err
		}
	}
	if opts.grayscale {
		profile.Grayscale = true
	}
	if opts.name != "" {
		profile.Stem = opts.name
	}
	return profile, nil
}

func scanEdit(opts scanOptions) (selection.Edit, error) {
	filter, err := selection.ParseFilter(opts.filter)
	if err != nil {
		return selection.Edit{}, err
	}
	edit := selection.Edit{Rotation: opts.rotation, Filter: filter, AutoFix: opts.autoFix}
	if err := edit.Validate(); err != nil {
		return selection.Edit{}, err
	}
	return edit.Normalized(), nil
}

func newScanReport(snap session.Snapshot) scanReport {
	excluded := make(map[string]int)
	for reason, n := range snap.Excluded() {
		excluded[string(reason)] = n
	}
	pages := snap.Pages
	if pages == nil {
		pages = []selection.Page{}
	}
	return scanReport{
		Session:    snap.ID,
		DurationMS: snap.DurationMS,
		Trim:       snap.Trim,
		Pages:      pages,
		Excluded:   excluded,
	}
}

func printCandidates(cmd *cobra.Command, snap session.Snapshot) {
	out := cmd.OutOrStdout()
	if len(snap.Pages) == 0 {
		fmt.Fprintln(out, "No candidate pages")
		return
	}
	rows := make([][]string, 0, len(snap.Pages))
	for i, p := range snap.Pages {
		status := "selected"
		if !p.Selected {
			status = "excluded"
			if p.Reason != detect.ReasonNone {
				status = "excluded: " + strings.ToLower(string(p.Reason))
			}
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			formatOffset(p.TimestampMS),
			fmt.Sprintf("%.2f", p.Quality),
			string(p.Source),
			status,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"#", "Time", "Quality", "Source", "Status"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft},
		"", "", "", "", fmt.Sprintf("%d of %d selected", snap.Selected(), len(snap.Pages)),
	))
}

// formatOffset renders milliseconds as m:ss.mmm.
func formatOffset(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	minutes := int(d / time.Minute)
	seconds := d % time.Minute
	return fmt.Sprintf("%d:%06.3f", minutes, seconds.Seconds())
}
