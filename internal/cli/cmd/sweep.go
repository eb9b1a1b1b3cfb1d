package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"videograb/internal/storage"
	"videograb/internal/util/format"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete stored files older than janitor.max_age once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			maxAge := a.Config.Janitor.MaxAge
			if d, _ := cmd.Flags().GetDuration("max-age"); d > 0 {
				maxAge = d
			}
			j := storage.NewJanitor(a.Dir, a.Config.Janitor.Interval, maxAge,
				storage.WithJanitorLogger(a.Logger))
			res := j.SweepOnce()
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, removed %d (%s), failed %d in %s\n",
				res.Scanned, res.Removed, format.HumanizeBytes(res.Bytes), res.Failed, a.Dir.Path())
			if res.Failed > 0 {
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("%d file(s) could not be removed", res.Failed)}
			}
			return nil
		},
	}
	cmd.Flags().Duration("max-age", 0, "Override janitor.max_age for this run, e.g. 30m")
	return cmd
}
