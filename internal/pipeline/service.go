// Package pipeline orchestrates the classify → resolve → select → fetch
// workflow shared by the HTTP server and the CLI.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"videograb/internal/fetch"
	"videograb/internal/model"
	"videograb/internal/observability"
	"videograb/internal/progress"
	"videograb/internal/resolver"
	"videograb/internal/storage"
	"videograb/internal/util"
	"videograb/internal/util/format"
)

var (
	ErrNoURL               = errors.New("no URL provided")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNoVideoID           = errors.New("could not extract a YouTube video ID from the URL")
	ErrStreamNotFound      = errors.New("no suitable stream found")
)

// Service resolves and downloads videos into a storage directory.
type Service struct {
	registry *resolver.Registry
	dir      *storage.Dir
	streamer *fetch.Streamer
	logger   *slog.Logger
	metrics  observability.Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry sets the per-platform strategy chains.
func WithRegistry(r *resolver.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithStorage sets the directory downloads land in.
func WithStorage(d *storage.Dir) Option {
	return func(s *Service) { s.dir = d }
}

// WithStreamer sets the HTTP streamer used for thumbnail fallbacks.
func WithStreamer(fs *fetch.Streamer) Option {
	return func(s *Service) { s.streamer = fs }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service. Registry and storage are required.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		return nil, errors.New("pipeline: registry is required")
	}
	if s.dir == nil {
		return nil, errors.New("pipeline: storage is required")
	}
	s.logger = observability.OrDiscard(s.logger)
	s.metrics = observability.OrNop(s.metrics)
	if s.streamer == nil {
		s.streamer = fetch.New(fetch.WithLogger(s.logger))
	}
	return s, nil
}

// Storage returns the directory downloads are written to.
func (s *Service) Storage() *storage.Dir { return s.dir }

// InfoResult is the outcome of Info.
type InfoResult struct {
	Platform util.Platform
	URL      string
	Video    model.VideoDescriptor
}

// Info classifies rawURL and resolves its descriptor through the platform's
// chain. Nothing is cached; every call goes back to the origin.
func (s *Service) Info(ctx context.Context, rawURL string) (InfoResult, error) {
	start := s.now()
	s.metrics.StartOperation("info")
	defer s.metrics.EndOperation("info")

	res, _, err := s.resolve(ctx, rawURL)
	s.metrics.RecordDuration("info", s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.RecordError("info", errorType(err))
		return res, err
	}
	s.metrics.RecordSuccess("info")
	return res, nil
}

func (s *Service) resolve(ctx context.Context, rawURL string) (InfoResult, resolver.Strategy, error) {
	rawURL = strings.TrimSpace(rawURL)
	res := InfoResult{URL: rawURL, Platform: util.PlatformUnknown}
	if rawURL == "" {
		return res, nil, ErrNoURL
	}
	// Strategies only see the normalized absolute URL.
	u, ok := util.ParseLooseURL(rawURL)
	if !ok {
		return res, nil, ErrUnsupportedPlatform
	}
	rawURL = u.String()
	res.URL = rawURL
	res.Platform = util.DetectPlatform(rawURL)
	if res.Platform == util.PlatformUnknown {
		return res, nil, ErrUnsupportedPlatform
	}
	var id string
	if res.Platform == util.PlatformYouTube {
		if id, ok = util.ExtractYouTubeID(rawURL); !ok {
			return res, nil, ErrNoVideoID
		}
	}

	chain, err := s.registry.Chain(res.Platform)
	if err != nil {
		return res, nil, err
	}
	v, strat, err := chain.Resolve(ctx, rawURL)
	if err != nil {
		return res, nil, err
	}
	if v.ID == "" {
		v.ID = id
	}
	res.Video = v
	s.logger.Info("resolved", "platform", res.Platform, "source", v.Source, "streams", len(v.Streams))
	return res, strat, nil
}

// DownloadRequest asks for one stream of a URL.
type DownloadRequest struct {
	URL      string
	Selector model.StreamSelector

	Reporter progress.Reporter
	JobID    string
}

// DownloadResult describes the stored file.
type DownloadResult struct {
	Platform util.Platform
	File     storage.File
	Video    model.VideoDescriptor
	Stream   model.StreamDescriptor

	// IsFallback is set when the stream failed and the thumbnail was stored
	// instead. FallbackReason carries the stream error.
	IsFallback     bool
	FallbackReason string
}

// DisplayName is the attachment name offered to the client.
func (r DownloadResult) DisplayName() string {
	ext := path.Ext(r.File.Name)
	title := util.SanitizeFilename(r.Video.Title)
	return title + ext
}

// Download re-resolves req.URL, selects a stream and stores it.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (DownloadResult, error) {
	start := s.now()
	s.metrics.StartOperation("download")
	defer s.metrics.EndOperation("download")

	res, err := s.download(ctx, req)
	s.metrics.RecordDuration("download", s.now().Sub(start).Seconds())

	rep := progress.OrNop(req.Reporter)
	if err != nil {
		s.metrics.RecordError("download", errorType(err))
		rep.Update(progress.Update{JobID: req.JobID, Stage: progress.StageError, Percent: -1, Message: err.Error()})
		rep.Result(progress.Result{JobID: req.JobID, Err: err})
		return res, err
	}

	s.metrics.RecordSuccess("download")
	s.metrics.RecordFileSize("download", res.File.Size)
	rep.Update(progress.Update{
		JobID:   req.JobID,
		Stage:   progress.StageCompleted,
		Percent: 100,
		Message: fmt.Sprintf("Saved: %s (%s)", res.File.Name, format.HumanizeBytes(res.File.Size)),
	})
	rep.Result(progress.Result{
		JobID:      req.JobID,
		OutputPath: res.File.Path,
		Bytes:      res.File.Size,
		IsFallback: res.IsFallback,
	})
	return res, nil
}

func (s *Service) download(ctx context.Context, req DownloadRequest) (DownloadResult, error) {
	rep := progress.OrNop(req.Reporter)
	rep.Update(progress.Update{JobID: req.JobID, Stage: progress.StageMetadata, Percent: -1, Message: "Resolving " + req.URL})

	info, strat, err := s.resolve(ctx, req.URL)
	res := DownloadResult{Platform: info.Platform, Video: info.Video}
	if err != nil {
		return res, err
	}

	stream, ok := info.Video.FindStream(req.Selector)
	if !ok {
		return res, ErrStreamNotFound
	}
	res.Stream = stream

	f, err := strat.Fetch(ctx, resolver.FetchRequest{
		URL:      info.URL,
		Video:    info.Video,
		Stream:   stream,
		Dir:      s.dir,
		Reporter: req.Reporter,
		JobID:    req.JobID,
	})
	if err == nil {
		res.File = f
		s.logger.Info("downloaded", "platform", info.Platform, "source", info.Video.Source, "file", f.Name, "bytes", f.Size)
		return res, nil
	}

	if ctx.Err() != nil || info.Video.Thumbnail == "" {
		return res, err
	}
	s.logger.Warn("stream download failed, storing thumbnail", "platform", info.Platform, "error", err)
	rep.Update(progress.Update{JobID: req.JobID, Stage: progress.StageFallback, Percent: -1, Message: "Falling back to thumbnail"})

	thumb, terr := s.streamer.ToFile(ctx, s.dir, fetch.Request{
		URL:      info.Video.Thumbnail,
		Name:     storage.NewName(info.Video.Title, thumbnailExt(info.Video.Thumbnail)),
		Referer:  info.URL,
		Reporter: req.Reporter,
		JobID:    req.JobID,
	})
	if terr != nil {
		s.logger.Warn("thumbnail fallback failed", "error", terr)
		return res, err
	}
	res.File = thumb
	res.IsFallback = true
	res.FallbackReason = err.Error()
	return res, nil
}

func thumbnailExt(rawURL string) string {
	if u, ok := util.ParseLooseURL(rawURL); ok {
		switch ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), ".")); ext {
		case "jpg", "jpeg", "png", "webp", "gif":
			return ext
		}
	}
	return "jpg"
}

// errorType labels an error for metrics.
func errorType(err error) string {
	var ee *resolver.ExtractionError
	switch {
	case errors.Is(err, ErrNoURL), errors.Is(err, ErrUnsupportedPlatform), errors.Is(err, ErrNoVideoID):
		return "input"
	case errors.Is(err, ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, resolver.ErrNoStrategy):
		return "no_strategy"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.As(err, &ee):
		return "extraction"
	default:
		return "transfer"
	}
}
