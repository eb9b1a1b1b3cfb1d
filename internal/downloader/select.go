package downloader

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"videograb/internal/storage"
)

// SelectDownloadedFile picks the file yt-dlp produced for base. Only complete
// stored names ("<base>.<ext>") qualify; partial and sidecar files are
// ignored. Playable containers are preferred.
func SelectDownloadedFile(dir *storage.Dir, base string) (storage.File, error) {
	entries, err := dir.List()
	if err != nil {
		return storage.File{}, err
	}
	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && storage.ValidName(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return storage.File{}, errors.New("no output file found")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := extPriority(filepath.Ext(candidates[i])), extPriority(filepath.Ext(candidates[j]))
		if pi == pj {
			return candidates[i] < candidates[j]
		}
		return pi < pj
	})
	return dir.Stat(candidates[0])
}

// extPriority ranks extensions, lower is better.
func extPriority(ext string) int {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4":
		return 0
	case "mkv":
		return 1
	case "webm":
		return 2
	case "mov":
		return 3
	case "avi":
		return 4
	case "flv":
		return 5
	case "3gp":
		return 6
	default:
		return 100
	}
}
