package downloader

// YTDLPFormat is one entry of the "formats" array in yt-dlp --dump-json.
type YTDLPFormat struct {
	FormatID       string  `json:"format_id"`
	FormatNote     string  `json:"format_note"`
	Ext            string  `json:"ext"`
	URL            string  `json:"url"`
	Protocol       string  `json:"protocol"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	FPS            float64 `json:"fps"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// hasVideo and hasAudio treat a missing codec field as present; yt-dlp
// omits them for single-file sources.
func (f YTDLPFormat) hasVideo() bool { return f.VCodec != "none" }
func (f YTDLPFormat) hasAudio() bool { return f.ACodec != "none" }

func (f YTDLPFormat) size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// YTDLPInfo mirrors the fields of yt-dlp --dump-json output used to build a
// descriptor.
type YTDLPInfo struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Channel   string        `json:"channel"`
	Duration  float64       `json:"duration"`
	Thumbnail string        `json:"thumbnail"`
	Ext       string        `json:"ext"`
	Height    int           `json:"height"`
	URL       string        `json:"url"`
	Formats   []YTDLPFormat `json:"formats"`
}

func (i YTDLPInfo) author() string {
	if i.Uploader != "" {
		return i.Uploader
	}
	return i.Channel
}
