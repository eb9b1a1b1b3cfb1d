package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"videograb/internal/util"
	"videograb/internal/util/deps"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report the yt-dlp binary, storage dir and strategy chain per platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			dl := a.Downloader
			if dl == "" {
				dl = "not found (subprocess strategy disabled)"
			} else if v, err := deps.Version(cmd.Context(), util.NewDefaultRunner(), dl); err == nil {
				dl += " (" + v + ")"
			} else {
				dl += " (version unknown: " + err.Error() + ")"
			}
			apiState := "disabled (no api.key)"
			if a.Config.API.Enabled() {
				apiState = "enabled"
			}
			fmt.Fprintf(out, "Downloader: %s\n", dl)
			fmt.Fprintf(out, "Storage:    %s\n", a.Dir.Path())
			fmt.Fprintf(out, "API:        %s\n", apiState)
			fmt.Fprintf(out, "Strategies: %s\n", strings.Join(a.Registry.Registered(), ", "))
			for _, p := range util.Platforms() {
				if err := a.Unavailable[p]; err != nil {
					fmt.Fprintf(out, "  %-10s unavailable: %v\n", p, err)
					continue
				}
				c, err := a.Registry.Chain(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-10s %s\n", p, strings.Join(c.Names(), " -> "))
			}

			if len(a.Unavailable) > 0 {
				return &ExitError{Code: ExitMissingDep, Err: fmt.Errorf("%d platform(s) have no usable strategy", len(a.Unavailable))}
			}
			return nil
		},
	}
}
