// Package api is the paid third-party extraction strategy. It posts the post
// URL to a RapidAPI-style "all in one downloader" endpoint and maps the
// returned media list onto stream descriptors. The key is read from
// configuration only; the strategy is not registered without one.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"videograb/internal/fetch"
	"videograb/internal/model"
	"videograb/internal/observability"
	"videograb/internal/resolver"
	"videograb/internal/storage"
	"videograb/internal/util"
	"videograb/internal/util/format"
)

const DefaultMaxStreams = 5

var ErrNoKey = errors.New("api key not configured")

// Config describes the remote extraction service.
type Config struct {
	BaseURL    string
	Host       string // X-RapidAPI-Host; derived from BaseURL when empty
	Key        string
	MaxStreams int
	Timeout    time.Duration
}

// Strategy calls the configured extraction API.
type Strategy struct {
	cfg      Config
	client   *http.Client
	streamer *fetch.Streamer
	logger   *slog.Logger
}

type Option func(*Strategy)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Strategy) { s.client = c }
}

func WithStreamer(fs *fetch.Streamer) Option {
	return func(s *Strategy) { s.streamer = fs }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

// New validates cfg and returns the strategy. It fails with ErrNoKey when no
// key is set.
func New(cfg Config, opts ...Option) (*Strategy, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, ErrNoKey
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("api base URL not configured")
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = DefaultMaxStreams
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Host == "" {
		if u, ok := util.ParseLooseURL(cfg.BaseURL); ok {
			cfg.Host = u.Host
		}
	}
	s := &Strategy{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	if s.streamer == nil {
		s.streamer = fetch.New(fetch.WithLogger(s.logger))
	}
	return s, nil
}

func (s *Strategy) Name() string { return resolver.NameAPI }

type request struct {
	URL string `json:"url"`
}

type media struct {
	URL       string `json:"url"`
	Quality   string `json:"quality"`
	Extension string `json:"extension"`
	Type      string `json:"type"`
	DataSize  int64  `json:"data_size"`
}

type response struct {
	Error     bool    `json:"error"`
	Message   string  `json:"message"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	Medias    []media `json:"medias"`
}

func (s *Strategy) Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, error) {
	platform := util.DetectPlatform(rawURL)
	body, err := json.Marshal(request{URL: rawURL})
	if err != nil {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RapidAPI-Key", s.cfg.Key)
	req.Header.Set("X-RapidAPI-Host", s.cfg.Host)

	resp, err := s.client.Do(req)
	if err != nil {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "call api: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "api returned HTTP %d", resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "decode response: %w", err)
	}
	if r.Error {
		msg := r.Message
		if msg == "" {
			msg = "unspecified error"
		}
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "api error: %s", msg)
	}
	s.logger.Debug("api resolved", "platform", platform, "medias", len(r.Medias))
	return s.describe(r), nil
}

// describe keeps video medias with a usable URL, largest first, capped at
// MaxStreams.
func (s *Strategy) describe(r response) model.VideoDescriptor {
	var vids []media
	for _, m := range r.Medias {
		if m.URL == "" || (m.Type != "" && m.Type != "video") {
			continue
		}
		if _, ok := util.ParseLooseURL(m.URL); !ok {
			continue
		}
		vids = append(vids, m)
	}
	sort.SliceStable(vids, func(i, j int) bool { return vids[i].DataSize > vids[j].DataSize })
	if len(vids) > s.cfg.MaxStreams {
		vids = vids[:s.cfg.MaxStreams]
	}

	streams := make([]model.StreamDescriptor, 0, len(vids))
	for i, m := range vids {
		ext := util.SanitizeExt(m.Extension, "mp4")
		res := m.Quality
		if res == "" {
			res = "Original"
		}
		streams = append(streams, model.StreamDescriptor{
			FormatID:   fmt.Sprintf("api-%d", i),
			Resolution: res,
			MimeType:   "video/" + ext,
			SizeMB:     format.Megabytes(m.DataSize),
			URL:        m.URL,
			Ext:        ext,
			SizeBytes:  m.DataSize,
		})
	}
	return model.VideoDescriptor{
		Title:     r.Title,
		Author:    r.Author,
		Thumbnail: r.Thumbnail,
		Length:    int(r.Duration),
		Streams:   streams,
	}
}

func (s *Strategy) Fetch(ctx context.Context, req resolver.FetchRequest) (storage.File, error) {
	return resolver.StreamToDir(ctx, s.streamer, req)
}
