package cmd

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"videograb/internal/model"
	"videograb/internal/pipeline"
	"videograb/internal/ui"
)

func newGrabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grab <urls...>",
		Short: "Download the best (or a chosen) stream of each link into the storage dir",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGrab,
	}
	cmd.Flags().StringP("format", "f", "", "Stream format_id to download (see 'videograb info')")
	cmd.Flags().Int("itag", 0, "YouTube itag to download")
	cmd.Flags().Bool("no-ui", false, "Disable TUI; use plain textual output")
	return cmd
}

func runGrab(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	formatID, _ := cmd.Flags().GetString("format")
	itag, _ := cmd.Flags().GetInt("itag")
	noUI, _ := cmd.Flags().GetBool("no-ui")
	opts := ui.Options{
		Jobs:     a.Config.Jobs,
		Selector: model.StreamSelector{FormatID: formatID, Itag: itag},
	}

	if !noUI && isTerminal() {
		if err := ui.Run(cmd.Context(), a.Service, args, opts); err != nil {
			return &ExitError{Code: ExitDownloadError, Err: err}
		}
		return nil
	}

	rep := ui.NewPlainReporter(cmd.OutOrStdout(), a.Config.Verbose)
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
		code   = ExitOK
	)
	g.SetLimit(opts.Jobs)
	for i, rawURL := range args {
		g.Go(func() error {
			_, err := a.Service.Download(cmd.Context(), pipeline.DownloadRequest{
				URL:      rawURL,
				Selector: opts.Selector,
				Reporter: rep,
				JobID:    fmt.Sprintf("job-%d", i),
			})
			if err != nil {
				mu.Lock()
				failed = append(failed, fmt.Sprintf("%s: %v", rawURL, err))
				code = max(code, exitCode(err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return &ExitError{Code: code, Err: fmt.Errorf("%d job(s) failed:\n- %s", len(failed), strings.Join(failed, "\n- "))}
	}
	return nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
