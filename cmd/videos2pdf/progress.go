package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"videos2pdf/internal/session"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// followTask waits for t, drawing a progress bar on stderr when it is a
// terminal. Interrupting the command cancels the task.
func (c *commandContext) followTask(cmd *cobra.Command, s *session.Session, t *session.Task, label string) error {
	ctx := cmd.Context()
	out := cmd.ErrOrStderr()
	if c.JSONMode() || !isTerminal(out) {
		select {
		case <-t.Done():
			return t.Wait()
		case <-ctx.Done():
			t.Cancel()
			<-t.Done()
			return ctx.Err()
		}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(label),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
	updates, stop := s.Subscribe()
	defer stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if snap.Task == t.Kind() {
				_ = bar.Set(int(snap.Progress * 100))
			}
		case <-t.Done():
			_ = bar.Finish()
			return t.Wait()
		case <-ctx.Done():
			t.Cancel()
			<-t.Done()
			_ = bar.Exit()
			return ctx.Err()
		}
	}
}
