package downloader

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"videograb/internal/progress"
)

// yt-dlp --newline prints lines such as
//
//	[download]  45.2% of ~10.00MiB at  1.50MiB/s ETA 00:04
var progressLine = regexp.MustCompile(`^\[download\]\s+([\d.]+)%(?:\s+of\s+~?\s*(\S+))?(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

// ParseProgress turns a yt-dlp progress line into an update. Other
// [download] lines (destination, already downloaded) become message-only
// updates with unknown percent.
func ParseProgress(line, jobID string) (progress.Update, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[download]") {
		return progress.Update{}, false
	}

	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		msg := strings.TrimSpace(strings.TrimPrefix(line, "[download]"))
		if msg == "" {
			return progress.Update{}, false
		}
		return progress.Update{JobID: jobID, Stage: progress.StageDownloading, Percent: -1, Message: msg}, true
	}

	u := progress.Update{
		JobID:   jobID,
		Stage:   progress.StageDownloading,
		Percent: -1,
		Message: "Downloading",
	}
	if p, err := strconv.ParseFloat(m[1], 64); err == nil {
		u.Percent = p
	}
	if m[2] != "" {
		u.Message = "Downloading " + m[2]
	}
	if m[3] != "" && m[3] != "Unknown" {
		speed := m[3]
		u.Speed = &speed
	}
	if m[4] != "" {
		if d, err := parseETA(m[4]); err == nil {
			u.ETA = &d
		}
	}
	return u, true
}

// parseETA accepts SS, MM:SS and HH:MM:SS.
func parseETA(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, strconv.ErrSyntax
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, err
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, nil
}
