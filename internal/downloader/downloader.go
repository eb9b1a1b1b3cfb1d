// Package downloader is the subprocess strategy: it shells out to yt-dlp (or
// youtube-dl) for both metadata and the download itself.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
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

// BestFormat is the selector used when yt-dlp lists no progressive format.
const BestFormat = "best"

// DefaultMetadataTimeout bounds a --dump-json run when none is configured.
const DefaultMetadataTimeout = 30 * time.Second

// Options controls downloader behavior.
type Options struct {
	DownloaderPath  string // path to yt-dlp or youtube-dl
	UserAgent       string
	CookiesFile     string        // optional Netscape cookie jar passed via --cookies
	Timeout         time.Duration // download runs
	MetadataTimeout time.Duration // --dump-json runs
	Verbose         bool
}

// Downloader runs yt-dlp through a util.CmdRunner.
type Downloader struct {
	opts   Options
	runner util.CmdRunner
	logger *slog.Logger
}

type Option func(*Downloader)

// WithRunner substitutes the subprocess runner (tests use a fake).
func WithRunner(r util.CmdRunner) Option {
	return func(d *Downloader) { d.runner = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

func New(opts Options, o ...Option) (*Downloader, error) {
	if opts.DownloaderPath == "" {
		return nil, errors.New("downloader path is required")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = fetch.DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = fetch.DefaultTimeout
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = DefaultMetadataTimeout
	}
	d := &Downloader{opts: opts, runner: util.NewDefaultRunner()}
	for _, fn := range o {
		fn(d)
	}
	d.logger = observability.OrDiscard(d.logger)
	return d, nil
}

func (d *Downloader) Name() string { return resolver.NameSubprocess }

// Resolve runs yt-dlp --dump-json and maps the result to a descriptor.
func (d *Downloader) Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, error) {
	platform := util.DetectPlatform(rawURL)
	info, err := d.fetchMetadata(ctx, rawURL)
	if err != nil {
		return model.VideoDescriptor{}, &resolver.ExtractionError{Strategy: d.Name(), Platform: platform, Err: err}
	}
	return describe(info), nil
}

func (d *Downloader) baseArgs(rawURL string) []string {
	args := []string{"--no-playlist", "--user-agent", d.opts.UserAgent}
	if ref := referer(rawURL); ref != "" {
		args = append(args, "--referer", ref)
	}
	if d.opts.CookiesFile != "" {
		args = append(args, "--cookies", d.opts.CookiesFile)
	}
	return args
}

func (d *Downloader) fetchMetadata(ctx context.Context, rawURL string) (YTDLPInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.MetadataTimeout)
	defer cancel()

	args := append([]string{"--dump-json"}, d.baseArgs(rawURL)...)
	args = append(args, "--", rawURL)
	res, runErr := d.runner.Run(ctx, util.CmdSpec{
		Path:   d.opts.DownloaderPath,
		Args:   args,
		Logger: d.execLogger(),
	})
	if runErr != nil {
		return YTDLPInfo{}, fmt.Errorf("metadata fetch failed: %w%s", runErr, stderrTail(res.Stderr))
	}
	return parseInfo(res.Stdout)
}

// parseInfo decodes the dump. yt-dlp may print several JSON documents (or
// warnings) on stdout, so on failure the last line that decodes with an id
// wins.
func parseInfo(stdout []byte) (YTDLPInfo, error) {
	data := strings.TrimSpace(string(stdout))
	var info YTDLPInfo
	err := json.Unmarshal([]byte(data), &info)
	if err == nil && info.ID != "" {
		return info, nil
	}
	lines := strings.Split(data, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line[0] != '{' {
			continue
		}
		var tmp YTDLPInfo
		if json.Unmarshal([]byte(line), &tmp) == nil && tmp.ID != "" {
			return tmp, nil
		}
	}
	if err == nil {
		err = errors.New("no video id in output")
	}
	return YTDLPInfo{}, fmt.Errorf("parse metadata JSON: %w", err)
}

// describe keeps formats that carry both video and audio, tallest first. If
// none qualify the descriptor offers a single "best" stream and lets yt-dlp
// pick and merge.
func describe(info YTDLPInfo) model.VideoDescriptor {
	var picked []YTDLPFormat
	for _, f := range info.Formats {
		if f.FormatID == "" || !f.hasVideo() || !f.hasAudio() {
			continue
		}
		if strings.HasPrefix(f.Protocol, "m3u8") || f.Protocol == "http_dash_segments" {
			continue
		}
		picked = append(picked, f)
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Height != picked[j].Height {
			return picked[i].Height > picked[j].Height
		}
		return picked[i].size() > picked[j].size()
	})

	streams := make([]model.StreamDescriptor, 0, len(picked)+1)
	for _, f := range picked {
		ext := util.SanitizeExt(f.Ext, "mp4")
		streams = append(streams, model.StreamDescriptor{
			FormatID:   f.FormatID,
			Resolution: resolutionLabel(f),
			MimeType:   "video/" + ext,
			FPS:        int(f.FPS),
			SizeMB:     format.Megabytes(f.size()),
			URL:        f.URL,
			Ext:        ext,
			Height:     f.Height,
			SizeBytes:  f.size(),
		})
	}
	if len(streams) == 0 {
		ext := util.SanitizeExt(info.Ext, "mp4")
		streams = append(streams, model.StreamDescriptor{
			FormatID:   BestFormat,
			Resolution: "best",
			MimeType:   "video/" + ext,
			Ext:        ext,
			Height:     info.Height,
		})
	}

	return model.VideoDescriptor{
		ID:        info.ID,
		Title:     info.Title,
		Author:    info.author(),
		Thumbnail: info.Thumbnail,
		Length:    int(info.Duration),
		Streams:   streams,
	}
}

func resolutionLabel(f YTDLPFormat) string {
	if f.Height > 0 {
		return strconv.Itoa(f.Height) + "p"
	}
	if f.FormatNote != "" {
		return f.FormatNote
	}
	return f.FormatID
}

// Fetch downloads the chosen format into the storage directory under a fresh
// base name and returns the file yt-dlp produced. Leftovers are discarded on
// failure.
func (d *Downloader) Fetch(ctx context.Context, req resolver.FetchRequest) (storage.File, error) {
	formatID := req.Stream.FormatID
	if formatID == "" {
		formatID = BestFormat
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	rep := progress.OrNop(req.Reporter)
	base := storage.NewBase(req.Video.Title)
	outTemplate := filepath.Join(req.Dir.Path(), base+".%(ext)s")

	args := append([]string{"-f", formatID, "--newline", "-o", outTemplate}, d.baseArgs(req.URL)...)
	args = append(args, "--", req.URL)
	res, runErr := d.runner.Run(ctx, util.CmdSpec{
		Path:   d.opts.DownloaderPath,
		Args:   args,
		Logger: d.execLogger(),
		StdoutLine: func(line string) {
			if u, ok := ParseProgress(line, req.JobID); ok {
				rep.Update(u)
				return
			}
			rep.Log(progress.Log{JobID: req.JobID, Stream: progress.StreamStdout, Line: line})
		},
		StderrLine: func(line string) {
			rep.Log(progress.Log{JobID: req.JobID, Stream: progress.StreamStderr, Line: line})
		},
	})
	if runErr != nil {
		d.discard(req.Dir, base)
		return storage.File{}, fmt.Errorf("downloader failed: %w%s", runErr, stderrTail(res.Stderr))
	}

	f, err := SelectDownloadedFile(req.Dir, base)
	if err != nil {
		d.discard(req.Dir, base)
		return storage.File{}, fmt.Errorf("resolve download: %w", err)
	}
	if f.Size == 0 {
		d.discard(req.Dir, base)
		return storage.File{}, fetch.ErrEmptyBody
	}
	return f, nil
}

// execLogger traces yt-dlp invocations when verbose output is on.
func (d *Downloader) execLogger() *slog.Logger {
	if !d.opts.Verbose {
		return nil
	}
	return d.logger
}

func (d *Downloader) discard(dir *storage.Dir, base string) {
	if n, err := dir.Discard(base); err != nil {
		d.logger.Warn("discard partial output", "base", base, "error", err)
	} else if n > 0 {
		d.logger.Debug("discarded partial output", "base", base, "files", n)
	}
}

// referer is the origin of the source URL, which is what the platform's own
// player sends.
func referer(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

func stderrTail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	return ": " + strings.TrimSpace(lines[len(lines)-1])
}
