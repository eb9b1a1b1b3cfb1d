package util

import (
	"net/url"
	"regexp"
	"strings"
)

type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformUnknown   Platform = "unknown"
)

// Platforms lists the supported platforms in classification priority order.
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformFacebook, PlatformInstagram, PlatformTikTok}
}

var platformDomains = []struct {
	platform Platform
	domains  []string
}{
	{PlatformYouTube, []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}},
	{PlatformFacebook, []string{"facebook.com", "fb.watch", "fb.com"}},
	{PlatformInstagram, []string{"instagram.com", "instagr.am"}},
	{PlatformTikTok, []string{"tiktok.com"}},
}

// ParseLooseURL parses raw, assuming https when the scheme is missing.
// Only http and https URLs with a host are accepted.
func ParseLooseURL(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err == nil && (u.Scheme == "" || u.Host == "") {
		if u2, e2 := url.Parse("https://" + raw); e2 == nil {
			u, err = u2, nil
		}
	}
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	default:
		return nil, false
	}
}

// DetectPlatform classifies a raw URL by its host. Anything that does not
// parse, or whose host is not in the known domain table, is PlatformUnknown.
func DetectPlatform(raw string) Platform {
	u, ok := ParseLooseURL(raw)
	if !ok {
		return PlatformUnknown
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	for _, entry := range platformDomains {
		for _, d := range entry.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return entry.platform
			}
		}
	}
	return PlatformUnknown
}

var youtubeIDPattern = regexp.MustCompile(
	`(?:youtube(?:-nocookie)?\.com/(?:watch\?(?:\S*?&)?v=|shorts/|embed/|v/|live/)|youtu\.be/)([A-Za-z0-9_-]{11})`,
)

var youtubeIDShape = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractYouTubeID returns the 11 character video token from a YouTube URL.
// It reports false when no token can be found.
func ExtractYouTubeID(raw string) (string, bool) {
	if m := youtubeIDPattern.FindStringSubmatch(raw); len(m) == 2 {
		return m[1], true
	}
	// Fall back to the v query parameter for shapes the pattern misses,
	// e.g. youtube.com/attribution_link?v=...
	u, ok := ParseLooseURL(raw)
	if !ok || DetectPlatform(raw) != PlatformYouTube {
		return "", false
	}
	if v := u.Query().Get("v"); youtubeIDShape.MatchString(v) {
		return v, true
	}
	return "", false
}
