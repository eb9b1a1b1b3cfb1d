// Package resolver defines the extraction strategy contract and the ordered
// per-platform chains that pick a strategy for a URL.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"videograb/internal/fetch"
	"videograb/internal/model"
	"videograb/internal/progress"
	"videograb/internal/storage"
	"videograb/internal/util"
)

// Strategy names.
const (
	NameLibrary    = "library"
	NameSubprocess = "subprocess"
	NameScrape     = "scrape"
	NameAPI        = "api"
)

// MaxChainLen caps a chain at a primary plus one fallback.
const MaxChainLen = 2

// Strategy resolves a URL into a descriptor and downloads one of its streams.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, error)
	Fetch(ctx context.Context, req FetchRequest) (storage.File, error)
}

// FetchRequest asks a strategy to store one stream of a descriptor it
// resolved.
type FetchRequest struct {
	URL    string // source URL the descriptor came from
	Video  model.VideoDescriptor
	Stream model.StreamDescriptor
	Dir    *storage.Dir

	Reporter progress.Reporter
	JobID    string
}

// ExtractionError reports a strategy failure for a platform.
type ExtractionError struct {
	Strategy string
	Platform util.Platform
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Errorf wraps a formatted cause as an *ExtractionError.
func Errorf(strategy string, platform util.Platform, format string, args ...any) error {
	return &ExtractionError{Strategy: strategy, Platform: platform, Err: fmt.Errorf(format, args...)}
}

var ErrNoStreams = errors.New("no downloadable streams")

// StreamToDir is the shared Fetch for strategies whose descriptors carry
// directly fetchable stream URLs.
func StreamToDir(ctx context.Context, s *fetch.Streamer, req FetchRequest) (storage.File, error) {
	if req.Stream.URL == "" {
		return storage.File{}, errors.New("stream has no direct URL")
	}
	return s.ToFile(ctx, req.Dir, fetch.Request{
		URL:      req.Stream.URL,
		Name:     storage.NewName(req.Video.Title, req.Stream.Ext),
		Referer:  req.URL,
		Reporter: req.Reporter,
		JobID:    req.JobID,
	})
}
