// Package youtube is the library-backed strategy for YouTube, built on
// github.com/kkdai/youtube/v2.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	ytlib "github.com/kkdai/youtube/v2"

	"videograb/internal/fetch"
	"videograb/internal/model"
	"videograb/internal/observability"
	"videograb/internal/resolver"
	"videograb/internal/storage"
	"videograb/internal/util"
	"videograb/internal/util/format"
)

// Client is the subset of *ytlib.Client used here.
type Client interface {
	GetVideoContext(ctx context.Context, url string) (*ytlib.Video, error)
	GetStreamContext(ctx context.Context, video *ytlib.Video, format *ytlib.Format) (io.ReadCloser, int64, error)
}

// Strategy resolves YouTube URLs through the bundled extraction library.
type Strategy struct {
	client      Client
	streamer    *fetch.Streamer
	logger      *slog.Logger
	timeout     time.Duration
	metaTimeout time.Duration
}

type Option func(*Strategy)

// WithClient injects a client (tests use a fake).
func WithClient(c Client) Option {
	return func(s *Strategy) { s.client = c }
}

// WithTimeout bounds every library HTTP call, including stream transfers.
// It has no effect on a client injected with WithClient.
func WithTimeout(d time.Duration) Option {
	return func(s *Strategy) { s.timeout = d }
}

// WithMetadataTimeout bounds each video lookup separately from the stream
// transfer that may follow it.
func WithMetadataTimeout(d time.Duration) Option {
	return func(s *Strategy) { s.metaTimeout = d }
}

// WithStreamer sets the chunked writer used to store library streams.
func WithStreamer(fs *fetch.Streamer) Option {
	return func(s *Strategy) { s.streamer = fs }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

func New(opts ...Option) *Strategy {
	s := &Strategy{}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.client == nil {
		s.client = &ytlib.Client{HTTPClient: &http.Client{Timeout: s.timeout}}
	}
	if s.streamer == nil {
		s.streamer = fetch.New(fetch.WithLogger(s.logger))
	}
	return s
}

func (s *Strategy) Name() string { return resolver.NameLibrary }

// Resolve lists the progressive (video with audio) formats, highest
// resolution first.
func (s *Strategy) Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, error) {
	id, ok := util.ExtractYouTubeID(rawURL)
	if !ok {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), util.PlatformYouTube, "no video id in %q", rawURL)
	}
	v, err := s.lookup(ctx, id)
	if err != nil {
		return model.VideoDescriptor{}, &resolver.ExtractionError{Strategy: s.Name(), Platform: util.PlatformYouTube, Err: err}
	}
	return describe(v), nil
}

func (s *Strategy) lookup(ctx context.Context, id string) (*ytlib.Video, error) {
	if s.metaTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.metaTimeout)
		defer cancel()
	}
	return s.client.GetVideoContext(ctx, id)
}

func describe(v *ytlib.Video) model.VideoDescriptor {
	formats := progressive(v.Formats)
	streams := make([]model.StreamDescriptor, 0, len(formats))
	for _, f := range formats {
		streams = append(streams, model.StreamDescriptor{
			FormatID:   strconv.Itoa(f.ItagNo),
			Itag:       f.ItagNo,
			Resolution: resolutionLabel(f),
			MimeType:   baseMime(f.MimeType),
			FPS:        f.FPS,
			SizeMB:     format.Megabytes(f.ContentLength),
			Ext:        extFromMime(f.MimeType),
			Height:     f.Height,
			SizeBytes:  f.ContentLength,
		})
	}
	return model.VideoDescriptor{
		ID:        v.ID,
		Title:     v.Title,
		Author:    v.Author,
		Thumbnail: bestThumbnail(v.Thumbnails),
		Length:    int(v.Duration / time.Second),
		Streams:   streams,
	}
}

// progressive keeps formats carrying both a video track and audio, sorted by
// height descending.
func progressive(list ytlib.FormatList) ytlib.FormatList {
	var out ytlib.FormatList
	for _, f := range list {
		if f.QualityLabel == "" || f.AudioChannels == 0 {
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return out[i].FPS > out[j].FPS
	})
	return out
}

func resolutionLabel(f ytlib.Format) string {
	if f.QualityLabel != "" {
		return f.QualityLabel
	}
	if f.Height > 0 {
		return strconv.Itoa(f.Height) + "p"
	}
	return f.Quality
}

func baseMime(m string) string {
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		return mt
	}
	return strings.TrimSpace(strings.SplitN(m, ";", 2)[0])
}

// extFromMime maps "video/mp4; codecs=..." to "mp4", following the original
// subtype-as-extension behaviour.
func extFromMime(m string) string {
	mt := baseMime(m)
	if i := strings.IndexByte(mt, '/'); i >= 0 {
		return util.SanitizeExt(mt[i+1:], "mp4")
	}
	return "mp4"
}

func bestThumbnail(thumbs ytlib.Thumbnails) string {
	var best ytlib.Thumbnail
	for _, t := range thumbs {
		if t.Width*t.Height >= best.Width*best.Height {
			best = t
		}
	}
	return best.URL
}

// Fetch re-resolves the video to get a fresh stream URL, then copies the
// library stream to disk chunk by chunk. The library's client timeout bounds
// the transfer.
func (s *Strategy) Fetch(ctx context.Context, req resolver.FetchRequest) (storage.File, error) {
	if req.Stream.Itag == 0 {
		return storage.File{}, errors.New("library fetch needs an itag")
	}
	id := req.Video.ID
	if id == "" {
		var ok bool
		if id, ok = util.ExtractYouTubeID(req.URL); !ok {
			return storage.File{}, fmt.Errorf("no video id in %q", req.URL)
		}
	}
	v, err := s.lookup(ctx, id)
	if err != nil {
		return storage.File{}, fmt.Errorf("refresh video: %w", err)
	}
	formats := v.Formats.Itag(req.Stream.Itag)
	if len(formats) == 0 {
		return storage.File{}, fmt.Errorf("itag %d no longer offered", req.Stream.Itag)
	}
	f := &formats[0]
	rc, size, err := s.client.GetStreamContext(ctx, v, f)
	if err != nil {
		return storage.File{}, fmt.Errorf("open stream: %w", err)
	}
	defer rc.Close()

	name := storage.NewName(req.Video.Title, extFromMime(f.MimeType))
	return s.streamer.Store(req.Dir, name, rc, size, req.Reporter, req.JobID)
}
