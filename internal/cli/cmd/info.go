package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"videograb/internal/model"
	"videograb/internal/ui"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <url>",
		Short: "Resolve a link and list its downloadable streams",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
	cmd.Flags().Bool("json", false, "Print the descriptor as JSON")
	return cmd
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Service.Info(cmd.Context(), args[0])
	if err != nil {
		return &ExitError{Code: exitCode(err), Err: err}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if res.Video.Streams == nil {
			res.Video.Streams = []model.StreamDescriptor{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Platform  string                `json:"platform"`
			URL       string                `json:"url"`
			VideoInfo model.VideoDescriptor `json:"video_info"`
		}{string(res.Platform), res.URL, res.Video})
	}
	fmt.Fprint(out, ui.RenderInfo(res))
	return nil
}
