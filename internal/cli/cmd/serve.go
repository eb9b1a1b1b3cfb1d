package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"videograb/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web page, JSON API and file janitor",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	go a.Janitor().Run(ctx)

	srv := server.New(a.Service,
		server.WithConfig(cfg.Server),
		server.WithLogger(a.Logger),
		server.WithMetrics(a.Metrics, a.Metrics.Handler()),
		server.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("shutdown: %w", err)}
	}
	return <-errCh
}
