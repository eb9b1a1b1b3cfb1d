// Package app assembles the runtime graph (storage, strategies, chains and the
// pipeline service) from a loaded configuration.
package app

import (
	"errors"
	"log/slog"

	"videograb/internal/config"
	"videograb/internal/downloader"
	"videograb/internal/fetch"
	"videograb/internal/observability"
	"videograb/internal/pipeline"
	"videograb/internal/resolver"
	"videograb/internal/resolver/api"
	"videograb/internal/resolver/scrape"
	"videograb/internal/resolver/youtube"
	"videograb/internal/storage"
	"videograb/internal/util"
	"videograb/internal/util/deps"
)

// App holds the shared components used by every command.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *observability.PrometheusMetrics
	Dir      *storage.Dir
	Streamer *fetch.Streamer
	Registry *resolver.Registry
	Service  *pipeline.Service

	// Downloader is the resolved yt-dlp path, empty when none was found.
	Downloader string
	// Unavailable maps platforms whose configured chain has no registered
	// strategy to the reason.
	Unavailable map[util.Platform]error
}

type options struct {
	findDownloader func(string) (string, error)
	strategies     []resolver.Strategy
}

type Option func(*options)

// WithDownloaderLookup replaces deps.FindDownloader.
func WithDownloaderLookup(fn func(string) (string, error)) Option {
	return func(o *options) { o.findDownloader = fn }
}

// WithStrategy registers s in addition to (or in place of, by name) the
// configured strategies.
func WithStrategy(s resolver.Strategy) Option {
	return func(o *options) { o.strategies = append(o.strategies, s) }
}

// New opens the storage directory and registers every strategy the
// configuration allows. A platform left without a usable chain is recorded in
// Unavailable rather than failing startup.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{findDownloader: deps.FindDownloader}
	for _, fn := range opts {
		fn(&o)
	}
	logger = observability.OrDiscard(logger)

	dir, err := storage.Open(cfg.Storage.Dir, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Metrics:     observability.NewPrometheusMetrics("videograb", nil),
		Dir:         dir,
		Registry:    resolver.NewRegistry(logger),
		Unavailable: map[util.Platform]error{},
	}
	a.Streamer = fetch.New(
		fetch.WithTimeout(cfg.Fetch.DownloadTimeout),
		fetch.WithChunkSize(cfg.Fetch.ChunkSize),
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithLogger(logger),
	)

	if err := a.registerStrategies(o); err != nil {
		dir.Close()
		return nil, err
	}
	for _, p := range util.Platforms() {
		if err := a.Registry.SetChain(p, cfg.Strategies[p]); err != nil {
			if !errors.Is(err, resolver.ErrNoStrategy) {
				dir.Close()
				return nil, err
			}
			a.Unavailable[p] = err
			logger.Warn("platform disabled", "platform", p, "error", err)
		}
	}

	a.Service, err = pipeline.NewService(
		pipeline.WithRegistry(a.Registry),
		pipeline.WithStorage(dir),
		pipeline.WithStreamer(a.Streamer),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(a.Metrics),
	)
	if err != nil {
		dir.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) registerStrategies(o options) error {
	cfg, logger := a.Config, a.Logger

	a.Registry.Register(youtube.New(
		youtube.WithTimeout(cfg.Fetch.DownloadTimeout),
		youtube.WithMetadataTimeout(cfg.Fetch.Timeout),
		youtube.WithStreamer(a.Streamer),
		youtube.WithLogger(logger),
	))

	a.Registry.Register(scrape.New(
		scrape.WithTimeout(cfg.Fetch.Timeout),
		scrape.WithUserAgent(cfg.Fetch.UserAgent),
		scrape.WithStreamer(a.Streamer),
		scrape.WithOEmbed(util.PlatformTikTok, cfg.Scrape.TikTokOEmbed),
		scrape.WithLogger(logger),
	))

	if path, err := o.findDownloader(cfg.YTDLP.Binary); err == nil {
		d, err := downloader.New(downloader.Options{
			DownloaderPath:  path,
			UserAgent:       cfg.Fetch.UserAgent,
			CookiesFile:     cfg.YTDLP.Cookies,
			Timeout:         cfg.Fetch.DownloadTimeout,
			MetadataTimeout: cfg.Fetch.Timeout,
			Verbose:         cfg.Verbose,
		}, downloader.WithLogger(logger))
		if err != nil {
			return err
		}
		a.Downloader = path
		a.Registry.Register(d)
	} else {
		logger.Warn("subprocess strategy disabled", "error", err)
	}

	if cfg.API.Enabled() {
		s, err := api.New(api.Config{
			BaseURL:    cfg.API.BaseURL,
			Host:       cfg.API.Host,
			Key:        cfg.API.Key,
			MaxStreams: cfg.API.MaxStreams,
			Timeout:    cfg.Fetch.Timeout,
		}, api.WithStreamer(a.Streamer), api.WithLogger(logger))
		if err != nil {
			return err
		}
		a.Registry.Register(s)
	} else {
		logger.Info("api strategy disabled", "reason", api.ErrNoKey)
	}

	for _, s := range o.strategies {
		a.Registry.Register(s)
	}
	return nil
}

// Janitor returns a janitor for the storage directory using the configured
// schedule.
func (a *App) Janitor() *storage.Janitor {
	return storage.NewJanitor(a.Dir, a.Config.Janitor.Interval, a.Config.Janitor.MaxAge,
		storage.WithJanitorLogger(a.Logger),
		storage.WithJanitorMetrics(a.Metrics),
	)
}

func (a *App) Close() error {
	return a.Dir.Close()
}
