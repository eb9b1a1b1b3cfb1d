package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Run launches the TUI and downloads urls with at most opts.Jobs in flight.
func Run(ctx context.Context, svc Downloader, urls []string, opts Options) error {
	m := NewModel(ctx, svc, urls, opts)
	defer m.cancel()
	prog := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(Model); ok {
		if failed := fm.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d job(s) failed:\n- %s", len(failed), strings.Join(failed, "\n- "))
		}
	}
	return nil
}
