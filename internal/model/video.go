package model

import "strings"

// StreamDescriptor is one downloadable rendition of a video.
type StreamDescriptor struct {
	FormatID   string  `json:"format_id"`
	Itag       int     `json:"itag,omitempty"` // library-backed YouTube streams only
	Resolution string  `json:"resolution"`
	MimeType   string  `json:"mime_type"`
	FPS        int     `json:"fps,omitempty"`
	SizeMB     float64 `json:"size_mb,omitempty"`
	URL        string  `json:"url,omitempty"`

	Ext       string `json:"-"` // container extension without the dot
	Height    int    `json:"-"`
	SizeBytes int64  `json:"-"` // 0 if unknown
}

// VideoDescriptor is the resolved metadata for a source URL. It is built per
// request and never cached.
type VideoDescriptor struct {
	ID        string             `json:"id,omitempty"`
	Title     string             `json:"title"`
	Author    string             `json:"author,omitempty"`
	Thumbnail string             `json:"thumbnail,omitempty"`
	Length    int                `json:"length,omitempty"` // seconds
	Source    string             `json:"source"`           // strategy that produced it
	Streams   []StreamDescriptor `json:"streams"`
}

// StreamSelector picks a stream out of a descriptor. The first non-empty
// field wins, in the order FormatID, Itag, URL. An empty selector picks the
// first stream.
type StreamSelector struct {
	FormatID string
	Itag     int
	URL      string
}

// IsZero reports whether no selection criteria are set.
func (s StreamSelector) IsZero() bool {
	return strings.TrimSpace(s.FormatID) == "" && s.Itag == 0 && strings.TrimSpace(s.URL) == ""
}

// FindStream returns the stream matching sel.
func (v VideoDescriptor) FindStream(sel StreamSelector) (StreamDescriptor, bool) {
	if len(v.Streams) == 0 {
		return StreamDescriptor{}, false
	}
	switch {
	case strings.TrimSpace(sel.FormatID) != "":
		id := strings.TrimSpace(sel.FormatID)
		for _, s := range v.Streams {
			if s.FormatID == id {
				return s, true
			}
		}
	case sel.Itag != 0:
		for _, s := range v.Streams {
			if s.Itag == sel.Itag {
				return s, true
			}
		}
	case strings.TrimSpace(sel.URL) != "":
		u := strings.TrimSpace(sel.URL)
		for _, s := range v.Streams {
			if s.URL != "" && s.URL == u {
				return s, true
			}
		}
	default:
		return v.Streams[0], true
	}
	return StreamDescriptor{}, false
}
