// Package scrape is the best-effort HTML scraping strategy. It fetches the
// post page with browser-like headers and runs an ordered list of regular
// expressions over the markup to find direct stream URLs. Page metadata
// comes from Open Graph tags via goquery. Any markup change upstream can
// break it; the chain's fallback covers that.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"videograb/internal/fetch"
	"videograb/internal/model"
	"videograb/internal/observability"
	"videograb/internal/resolver"
	"videograb/internal/storage"
	"videograb/internal/util"
)

const maxPageBytes = 8 << 20

// Pattern is one stream-URL extractor. The first capture group is the URL,
// possibly JSON-escaped.
type Pattern struct {
	Label string
	Re    *regexp.Regexp
}

// DefaultPatterns are tried in order; earlier matches rank higher.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{"HD", regexp.MustCompile(`"playable_url_quality_hd"\s*:\s*"([^"]+)"`)},
		{"HD", regexp.MustCompile(`"browser_native_hd_url"\s*:\s*"([^"]+)"`)},
		{"HD", regexp.MustCompile(`hd_src\s*:\s*"([^"]+)"`)},
		{"SD", regexp.MustCompile(`"playable_url"\s*:\s*"([^"]+)"`)},
		{"SD", regexp.MustCompile(`"browser_native_sd_url"\s*:\s*"([^"]+)"`)},
		{"SD", regexp.MustCompile(`sd_src\s*:\s*"([^"]+)"`)},
		{"Original", regexp.MustCompile(`"video_url"\s*:\s*"([^"]+)"`)},
		{"Original", regexp.MustCompile(`"playAddr"\s*:\s*"([^"]+)"`)},
		{"Original", regexp.MustCompile(`"contentUrl"\s*:\s*"([^"]+)"`)},
	}
}

// Strategy scrapes post pages.
type Strategy struct {
	client    *http.Client
	streamer  *fetch.Streamer
	userAgent string
	patterns  []Pattern
	oembed    map[util.Platform]string
	logger    *slog.Logger
}

type Option func(*Strategy)

// WithTimeout bounds page and oEmbed requests.
func WithTimeout(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Strategy) { s.client = c }
}

func WithStreamer(fs *fetch.Streamer) Option {
	return func(s *Strategy) { s.streamer = fs }
}

func WithUserAgent(ua string) Option {
	return func(s *Strategy) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

func WithPatterns(p []Pattern) Option {
	return func(s *Strategy) { s.patterns = p }
}

// WithOEmbed sets the oEmbed endpoint used to enrich metadata for platform.
// The endpoint receives the post URL in its url query parameter. An empty
// endpoint disables enrichment for platform.
func WithOEmbed(platform util.Platform, endpoint string) Option {
	return func(s *Strategy) {
		if endpoint == "" {
			delete(s.oembed, platform)
			return
		}
		s.oembed[platform] = endpoint
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

func New(opts ...Option) *Strategy {
	s := &Strategy{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: fetch.DefaultUserAgent,
		patterns:  DefaultPatterns(),
		oembed: map[util.Platform]string{
			util.PlatformTikTok: "https://www.tiktok.com/oembed",
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	if s.streamer == nil {
		s.streamer = fetch.New(fetch.WithUserAgent(s.userAgent), fetch.WithLogger(s.logger))
	}
	return s
}

func (s *Strategy) Name() string { return resolver.NameScrape }

func (s *Strategy) Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, error) {
	platform := util.DetectPlatform(rawURL)
	page, err := s.get(ctx, rawURL)
	if err != nil {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "fetch page: %w", err)
	}

	v := model.VideoDescriptor{}
	var ogVideo string
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		v.Title = metaContent(doc, "og:title", "twitter:title")
		if v.Title == "" {
			v.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
		v.Thumbnail = metaContent(doc, "og:image", "twitter:image")
		v.Author = metaContent(doc, "author", "og:site_name")
		ogVideo = metaContent(doc, "og:video:secure_url", "og:video:url", "og:video")
	}

	v.Streams = s.extractStreams(page, ogVideo)
	if len(v.Streams) == 0 {
		return model.VideoDescriptor{}, resolver.Errorf(s.Name(), platform, "no stream URL found in page")
	}

	if endpoint, ok := s.oembed[platform]; ok {
		s.enrich(ctx, endpoint, rawURL, &v)
	}
	if v.Title == "" {
		v.Title = string(platform) + " video"
	}
	return v, nil
}

// extractStreams applies the patterns in order and keeps the first
// occurrence of each distinct URL. ogVideo, when set, ranks last.
func (s *Strategy) extractStreams(page []byte, ogVideo string) []model.StreamDescriptor {
	seen := map[string]bool{}
	var out []model.StreamDescriptor
	add := func(raw, label string) {
		u, ok := cleanURL(raw)
		if !ok || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, model.StreamDescriptor{
			FormatID:   fmt.Sprintf("scrape-%d", len(out)),
			Resolution: label,
			MimeType:   "video/mp4",
			URL:        u,
			Ext:        "mp4",
		})
	}
	for _, p := range s.patterns {
		for _, m := range p.Re.FindAllSubmatch(page, -1) {
			if len(m) >= 2 {
				add(string(m[1]), p.Label)
			}
		}
	}
	if ogVideo != "" {
		add(ogVideo, "Original")
	}
	return out
}

// cleanURL undoes JSON and HTML escaping and accepts only absolute http(s)
// URLs.
func cleanURL(raw string) (string, bool) {
	var unq string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &unq); err != nil {
		unq = strings.ReplaceAll(raw, `\/`, `/`)
	}
	unq = html.UnescapeString(unq)
	u, err := url.Parse(unq)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return u.String(), true
}

func metaContent(doc *goquery.Document, keys ...string) string {
	for _, k := range keys {
		sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, k, k)
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(html.UnescapeString(v))
		}
	}
	return ""
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// enrich fills gaps from an oEmbed endpoint. Failures only cost metadata.
func (s *Strategy) enrich(ctx context.Context, endpoint, rawURL string, v *model.VideoDescriptor) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return
	}
	q := u.Query()
	q.Set("url", rawURL)
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String())
	if err != nil {
		s.logger.Debug("oembed lookup failed", "endpoint", endpoint, "error", err)
		return
	}
	var oe oembedResponse
	if err := json.Unmarshal(body, &oe); err != nil {
		s.logger.Debug("oembed decode failed", "endpoint", endpoint, "error", err)
		return
	}
	if v.Title == "" || strings.EqualFold(v.Title, "TikTok") {
		v.Title = oe.Title
	}
	if v.Author == "" {
		v.Author = oe.AuthorName
	}
	if v.Thumbnail == "" {
		v.Thumbnail = oe.ThumbnailURL
	}
}

func (s *Strategy) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-Fetch-Mode", "navigate")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

func (s *Strategy) Fetch(ctx context.Context, req resolver.FetchRequest) (storage.File, error) {
	return resolver.StreamToDir(ctx, s.streamer, req)
}
