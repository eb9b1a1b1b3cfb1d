package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"videograb/internal/app"
	"videograb/internal/config"
	"videograb/internal/observability"
	"videograb/internal/pipeline"
	"videograb/internal/resolver"
)

const (
	ExitOK            = 0
	ExitCLIError      = 1
	ExitMissingDep    = 2
	ExitDownloadError = 3
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "videograb",
		Short: "Grab videos from YouTube, Facebook, Instagram and TikTok",
		Long: "videograb resolves a public video link into its downloadable streams and stores the one you pick. " +
			"Run 'videograb serve' for the web page and JSON API, or use info and grab from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(cmd.Root()); err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return nil
		},
	}

	// Persistent flags available to all subcommands; each overrides its config key.
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (default: user config dir or ./config.yaml)")
	pf.String("storage-dir", "", "Download directory (storage.dir)")
	pf.String("dl-binary", "", "Path to yt-dlp or youtube-dl (ytdlp.binary)")
	pf.BoolP("verbose", "v", false, "Show subprocess output")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text, json")
	pf.Int("jobs", 2, "Max concurrent downloads for grab")

	root.AddCommand(newServeCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newGrabCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newCompletionCmd())

	return root
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	return root.ExecuteContext(ctx)
}

// loadApp reads configuration and builds the shared components. Logs go to
// the command's stderr.
func loadApp(cmd *cobra.Command, opts ...app.Option) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &ExitError{Code: ExitCLIError, Err: err}
	}
	level := cfg.Log.Level
	if cfg.Verbose {
		level = "debug"
	}
	logger := observability.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)
	a, err := app.New(cfg, logger, opts...)
	if err != nil {
		return nil, &ExitError{Code: ExitCLIError, Err: err}
	}
	return a, nil
}

// exitCode maps pipeline failures to process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoURL),
		errors.Is(err, pipeline.ErrUnsupportedPlatform),
		errors.Is(err, pipeline.ErrNoVideoID),
		errors.Is(err, pipeline.ErrStreamNotFound):
		return ExitCLIError
	case errors.Is(err, resolver.ErrNoStrategy):
		return ExitMissingDep
	default:
		return ExitDownloadError
	}
}
