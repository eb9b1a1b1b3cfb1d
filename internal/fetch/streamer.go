// Package fetch streams remote media into the storage directory in fixed-size
// chunks without holding the payload in memory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"videograb/internal/observability"
	"videograb/internal/progress"
	"videograb/internal/storage"
	"videograb/internal/util/format"
)

const (
	DefaultChunkSize = 32 * 1024
	DefaultTimeout   = 10 * time.Minute
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var ErrEmptyBody = errors.New("empty response body")

// Streamer downloads URLs to disk.
type Streamer struct {
	client    *http.Client
	chunkSize int
	userAgent string
	logger    *slog.Logger
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithHTTPClient replaces the HTTP client. Its Timeout bounds each transfer.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Streamer) { s.client = c }
}

// WithTimeout sets the whole-transfer deadline on the default client.
func WithTimeout(d time.Duration) Option {
	return func(s *Streamer) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

func WithChunkSize(n int) Option {
	return func(s *Streamer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(s *Streamer) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) { s.logger = l }
}

// New returns a Streamer with a bounded default timeout.
func New(opts ...Option) *Streamer {
	s := &Streamer{
		client:    &http.Client{Timeout: DefaultTimeout},
		chunkSize: DefaultChunkSize,
		userAgent: DefaultUserAgent,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	return s
}

// Request describes one transfer into dir.
type Request struct {
	URL     string
	Name    string // stored name, from storage.NewName
	Referer string

	Reporter progress.Reporter
	JobID    string
}

// ToFile streams req.URL into dir under req.Name. On any failure the partial
// file is removed and no File is returned.
func (s *Streamer) ToFile(ctx context.Context, dir *storage.Dir, req Request) (storage.File, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return storage.File{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set("Accept", "*/*")
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return storage.File{}, fmt.Errorf("request stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return storage.File{}, fmt.Errorf("stream returned HTTP %d", resp.StatusCode)
	}

	return s.Store(dir, req.Name, resp.Body, resp.ContentLength, req.Reporter, req.JobID)
}

// Store copies src into a new stored file called name. total is the expected
// length, or <= 0 when unknown. Empty or short copies are errors, and on any
// error the partial file is removed.
func (s *Streamer) Store(dir *storage.Dir, name string, src io.Reader, total int64, rep progress.Reporter, jobID string) (storage.File, error) {
	f, err := dir.Create(name)
	if err != nil {
		return storage.File{}, fmt.Errorf("create output: %w", err)
	}

	written, copyErr := s.copy(f, src, total, progress.OrNop(rep), jobID)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("copy stream: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close output: %w", closeErr)
	case written == 0:
		err = ErrEmptyBody
	case total > 0 && written != total:
		err = fmt.Errorf("short body: got %d of %d bytes", written, total)
	}
	if err != nil {
		if rmErr := dir.Remove(name); rmErr != nil {
			s.logger.Warn("remove partial download", "name", name, "error", rmErr)
		}
		return storage.File{}, err
	}

	s.logger.Debug("stream stored", "name", name, "bytes", written)
	return dir.Stat(name)
}

// copy moves src to dst chunk by chunk, reporting progress after each chunk.
func (s *Streamer) copy(dst io.Writer, src io.Reader, total int64, rep progress.Reporter, jobID string) (int64, error) {
	buf := make([]byte, s.chunkSize)
	var written int64
	start := time.Now()
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
			rep.Update(chunkUpdate(jobID, written, total, start))
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func chunkUpdate(jobID string, written, total int64, start time.Time) progress.Update {
	pct := -1.0
	if total > 0 {
		pct = float64(written) / float64(total) * 100
	}
	u := progress.Update{
		JobID:   jobID,
		Stage:   progress.StageDownloading,
		Percent: pct,
		Bytes:   &written,
		Message: "Downloading " + format.HumanizeBytes(written),
	}
	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		speed := format.HumanizeBytes(int64(float64(written)/elapsed)) + "/s"
		u.Speed = &speed
	}
	return u
}
