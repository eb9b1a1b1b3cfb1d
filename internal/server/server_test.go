package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videograb/internal/config"
	"videograb/internal/fetch"
	"videograb/internal/model"
	"videograb/internal/observability"
	"videograb/internal/pipeline"
	"videograb/internal/resolver"
	"videograb/internal/resolver/scrape"
	"videograb/internal/storage"
	"videograb/internal/util"
)

const videoBytes = "\x00\x00\x00\x18ftypmp42 fake video payload"

// rewriteTransport sends every request to target, whatever host the caller
// asked for, so real platform URLs can be served by an httptest upstream.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

type failingStrategy struct {
	name  string
	err   error
	panic bool
}

func (f failingStrategy) Name() string { return f.name }

func (f failingStrategy) Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, error) {
	if f.panic {
		panic("boom")
	}
	return model.VideoDescriptor{}, f.err
}

func (f failingStrategy) Fetch(ctx context.Context, req resolver.FetchRequest) (storage.File, error) {
	return storage.File{}, f.err
}

// upstream fakes a Facebook post page plus the CDN file it links to.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/watch/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Sunset &amp; waves"></head>
<body><script>{"playable_url":"https:\/\/video.fbcdn.example\/v\/clip.mp4?tok=1"}</script></body></html>`)
	})
	mux.HandleFunc("/v/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprint(w, videoBytes)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	srv     *Server
	dir     *storage.Dir
	metrics *observability.PrometheusMetrics
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	up := upstream(t)
	target, err := url.Parse(up.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: rewriteTransport{target: target}}

	dir, err := storage.Open(filepath.Join(t.TempDir(), "dl"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })

	reg := resolver.NewRegistry(nil)
	reg.Register(scrape.New(
		scrape.WithHTTPClient(client),
		scrape.WithStreamer(fetch.New(fetch.WithHTTPClient(client))),
	))
	reg.Register(failingStrategy{name: resolver.NameLibrary, err: errors.New("video unavailable")})
	reg.Register(failingStrategy{name: resolver.NameAPI, panic: true})
	require.NoError(t, reg.SetChain(util.PlatformFacebook, []string{resolver.NameScrape}))
	require.NoError(t, reg.SetChain(util.PlatformYouTube, []string{resolver.NameLibrary}))
	require.NoError(t, reg.SetChain(util.PlatformTikTok, []string{resolver.NameAPI}))

	m := observability.NewPrometheusMetrics("videograb", nil)
	svc, err := pipeline.NewService(pipeline.WithRegistry(reg), pipeline.WithStorage(dir), pipeline.WithMetrics(m))
	require.NoError(t, err)

	opts = append([]Option{WithMetrics(m, m.Handler())}, opts...)
	return fixture{srv: New(svc, opts...), dir: dir, metrics: m}
}

func (f fixture) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestIndex(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/info")
}

func TestAPI_InputErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		url  string
		want string
	}{
		{"/api/info", "", "No URL provided"},
		{"/api/info", "https://vimeo.com/123", "Unsupported platform"},
		{"/api/download", "ftp://www.youtube.com/watch?v=dQw4w9WgXcQ", "Unsupported platform"},
		{"/api/info", "https://www.youtube.com/channel/UC123", "Could not extract"},
		{"/api/info", "https://www.instagram.com/reel/abc/", "not available"},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodPost, tt.path, url.Values{"url": {tt.url}})
		assert.Equal(t, http.StatusOK, rec.Code, tt.url)
		env := decode(t, rec)
		assert.False(t, env.Success, tt.url)
		assert.Contains(t, env.Error, tt.want, tt.url)
	}
}

func TestAPI_FailingStrategy(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/info", "/api/download"} {
		rec := f.do(t, http.MethodPost, path, url.Values{"url": {"https://youtu.be/dQw4w9WgXcQ"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		env := decode(t, rec)
		assert.False(t, env.Success)
		assert.Contains(t, env.Error, "YouTube video")
		assert.Contains(t, env.Error, "library: video unavailable")
	}
	entries, err := f.dir.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAPI_PanicIsJSON(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/info", url.Values{"url": {"https://www.tiktok.com/@x/video/1"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestEndToEnd_InfoDownloadServe(t *testing.T) {
	f := newFixture(t)
	postURL := "https://www.facebook.com/watch/?v=1234"

	rec := f.do(t, http.MethodPost, "/api/info", url.Values{"url": {postURL}})
	env := decode(t, rec)
	require.True(t, env.Success, env.Error)
	assert.Equal(t, "facebook", env.Platform)
	assert.Equal(t, postURL, env.URL)
	require.NotNil(t, env.VideoInfo)
	assert.Equal(t, "Sunset & waves", env.VideoInfo.Title)
	assert.Equal(t, "scrape", env.VideoInfo.Source)
	require.Len(t, env.VideoInfo.Streams, 1)
	assert.Equal(t, "scrape-0", env.VideoInfo.Streams[0].FormatID)

	rec = f.do(t, http.MethodPost, "/api/download", url.Values{"url": {postURL}, "format_id": {"scrape-0"}})
	env = decode(t, rec)
	require.True(t, env.Success, env.Error)
	assert.False(t, env.IsFallback)
	assert.True(t, storage.ValidName(env.Filename), env.Filename)
	assert.True(t, strings.HasPrefix(env.Filename, "Sunset_waves_"))
	assert.Equal(t, "Sunset_waves.mp4", env.DisplayName)

	link, err := url.Parse(env.DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, "example.com", link.Host, "absolute link built from the request host")
	assert.Equal(t, "/download/"+env.Filename, link.Path)

	rec = f.do(t, http.MethodGet, link.RequestURI(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, videoBytes, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Sunset_waves.mp4")
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestDownload_PublicBaseURLAndForeignStreamURL(t *testing.T) {
	f := newFixture(t, WithConfig(config.Server{Addr: ":0", PublicBaseURL: "https://grab.example"}))
	postURL := "https://www.facebook.com/watch/?v=1"

	rec := f.do(t, http.MethodPost, "/api/download", url.Values{"url": {postURL}, "stream_url": {"http://169.254.169.254/latest/meta-data"}})
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "No suitable stream")

	rec = f.do(t, http.MethodPost, "/api/download", url.Values{"url": {postURL}, "itag": {"not-a-number"}})
	env = decode(t, rec)
	require.True(t, env.Success, env.Error)
	assert.True(t, strings.HasPrefix(env.DownloadURL, "https://grab.example/download/"))
}

func TestServeFile_NotFoundAndTraversal(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{
		"/download/missing_0123456789abcdef.mp4",
		"/download/..%2F..%2Fetc%2Fpasswd",
		"/download/passwd",
		"/download/.env",
		"/download/..",
	} {
		rec := f.do(t, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
	}

	rec := f.do(t, http.MethodGet, "/download/missing_0123456789abcdef.mp4", nil)
	assert.Equal(t, "File not found\n", rec.Body.String())
}

func TestServeFile_DisplayName(t *testing.T) {
	f := newFixture(t)
	name := storage.NewName("clip", "mp4")
	w, err := f.dir.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, "data")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := f.do(t, http.MethodGet, "/download/"+name+"?name="+url.QueryEscape("../Vidéo d'été.mp4"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cd := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(cd, "attachment;"), cd)
	assert.Contains(t, cd, "filename*=utf-8''")
	assert.NotContains(t, cd, "..")

	rec = f.do(t, http.MethodGet, "/download/"+name, nil)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), name)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, WithRateLimit(0.001, 1))
	form := url.Values{"url": {""}}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/info", form).Code)

	rec := f.do(t, http.MethodPost, "/api/info", form)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, decode(t, rec).Success)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code, "non-API routes are not limited")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/info", url.Values{"url": {"https://vimeo.com/1"}})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `videograb_errors_total{error_type="input",operation="info"} 1`)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "stored.mp4", displayName("", "stored.mp4"))
	assert.Equal(t, "passwd", displayName("../../etc/passwd", "stored.mp4"))
	assert.Equal(t, "a.mp4", displayName(`C:\x\a.mp4`, "stored.mp4"))
	assert.Equal(t, "stored.mp4", displayName("..", "stored.mp4"))
	assert.Equal(t, "ab.mp4", displayName("a\"\nb.mp4", "stored.mp4"))
}

func TestServeAndStop(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Stop(ctx))
	require.NoError(t, <-errCh)
}
