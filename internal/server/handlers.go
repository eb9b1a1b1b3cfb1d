package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"videograb/internal/model"
	"videograb/internal/pipeline"
	"videograb/internal/resolver"
	"videograb/internal/storage"
	"videograb/internal/util"
)

// envelope is the JSON body of every /api response. Failures are reported
// with success=false and HTTP 200, except for rate limiting and panics.
type envelope struct {
	Success bool `json:"success"`

	Platform  string                 `json:"platform,omitempty"`
	URL       string                 `json:"url,omitempty"`
	VideoInfo *model.VideoDescriptor `json:"video_info,omitempty"`

	DownloadURL    string `json:"download_url,omitempty"`
	Filename       string `json:"filename,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	IsFallback     bool   `json:"is_fallback,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Info(r.Context(), r.FormValue("url"))
	if err != nil {
		s.logger.Warn("info failed", "url", res.URL, "platform", res.Platform, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusOK, envelope{Error: userMessage(err, res.Platform, "get", "info")})
		return
	}
	v := res.Video
	if v.Streams == nil {
		v.Streams = []model.StreamDescriptor{}
	}
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Platform:  string(res.Platform),
		URL:       res.URL,
		VideoInfo: &v,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	req := pipeline.DownloadRequest{
		URL: r.FormValue("url"),
		Selector: model.StreamSelector{
			FormatID: strings.TrimSpace(r.FormValue("format_id")),
			URL:      strings.TrimSpace(r.FormValue("stream_url")),
		},
		JobID: middleware.GetReqID(r.Context()),
	}
	// A non-numeric itag is ignored and the default stream is used.
	if itag, err := strconv.Atoi(strings.TrimSpace(r.FormValue("itag"))); err == nil && itag > 0 {
		req.Selector.Itag = itag
	}

	res, err := s.svc.Download(r.Context(), req)
	if err != nil {
		s.logger.Warn("download failed", "url", req.URL, "platform", res.Platform, "error", err,
			"request_id", req.JobID)
		writeJSON(w, http.StatusOK, envelope{Error: userMessage(err, res.Platform, "download", "")})
		return
	}

	display := res.DisplayName()
	writeJSON(w, http.StatusOK, envelope{
		Success:        true,
		DownloadURL:    s.downloadURL(r, res.File.Name, display),
		Filename:       res.File.Name,
		DisplayName:    display,
		IsFallback:     res.IsFallback,
		FallbackReason: res.FallbackReason,
	})
}

// downloadURL builds the link to the file route. It is absolute, using the
// configured public base URL or else the request's own scheme and host.
func (s *Server) downloadURL(r *http.Request, name, display string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	q := url.Values{}
	if display != "" && display != name {
		q.Set("name", display)
	}
	u := base + "/download/" + url.PathEscape(name)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	f, info, err := s.dir.Open(name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidName) {
			s.logger.Error("open stored file", "name", name, "error", err)
		}
		s.metrics.RecordError("serve", "not_found")
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	display := displayName(r.URL.Query().Get("name"), name)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": display})
	if disposition == "" {
		disposition = mime.FormatMediaType("attachment", map[string]string{"filename": name})
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	s.metrics.RecordSuccess("serve")
	http.ServeContent(w, r, name, info.ModTime, f)
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".flv":  "video/x-flv",
	".3gp":  "video/3gpp",
	".m4a":  "audio/mp4",
}

// contentType prefers the media table since the mime package only knows
// video types when the host ships a mime.types file.
func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// displayName cleans a client-supplied attachment name. It keeps the last
// path element, drops control characters and falls back to the stored name.
func displayName(requested, stored string) string {
	requested = strings.TrimSpace(requested)
	if i := strings.LastIndexAny(requested, `/\`); i >= 0 {
		requested = requested[i+1:]
	}
	requested = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, requested)
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == "." || requested == ".." {
		return stored
	}
	if r := []rune(requested); len(r) > 200 {
		requested = string(r[:200])
	}
	return requested
}

// userMessage renders err for the JSON envelope. Input problems are shown as
// is; upstream failures are prefixed with what was being attempted.
func userMessage(err error, platform util.Platform, verb, noun string) string {
	switch {
	case errors.Is(err, pipeline.ErrNoURL),
		errors.Is(err, pipeline.ErrUnsupportedPlatform),
		errors.Is(err, pipeline.ErrNoVideoID),
		errors.Is(err, pipeline.ErrStreamNotFound):
		return capitalize(err.Error())
	case errors.Is(err, resolver.ErrNoStrategy):
		return fmt.Sprintf("%s downloads are not available on this server", titleCase(string(platform)))
	}
	what := titleCase(string(platform)) + " video"
	if noun != "" {
		what += " " + noun
	}
	return fmt.Sprintf("Failed to %s %s: %v", verb, what, err)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func titleCase(p string) string {
	switch util.Platform(p) {
	case util.PlatformYouTube:
		return "YouTube"
	case util.PlatformTikTok:
		return "TikTok"
	default:
		return capitalize(p)
	}
}
