// Package deps locates the external yt-dlp binary used by the subprocess
// strategy.
package deps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"videograb/internal/util"
)

// ErrNotFound is returned when no downloader binary can be located.
var ErrNotFound = errors.New("yt-dlp not found")

// downloaderNames are searched in PATH, in order, when no binary is configured.
var downloaderNames = []string{"yt-dlp", "yt-dlp_linux", "youtube-dl"}

// FindDownloader resolves the downloader binary. A configured binary is used
// as a path when it exists on disk and otherwise looked up in PATH; it never
// falls back to the default names.
func FindDownloader(binary string) (string, error) {
	if binary != "" {
		if fi, err := os.Stat(binary); err == nil && !fi.IsDir() {
			return binary, nil
		}
		if p, err := exec.LookPath(binary); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("%w at %q", ErrNotFound, binary)
	}
	for _, name := range downloaderNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in PATH (tried %s), install yt-dlp or set ytdlp.binary",
		ErrNotFound, strings.Join(downloaderNames, ", "))
}

// Version runs `<path> --version` and returns the first output line.
func Version(ctx context.Context, runner util.CmdRunner, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := runner.Run(ctx, util.CmdSpec{Path: path, Args: []string{"--version"}})
	if err != nil {
		return "", err
	}
	v, _, _ := strings.Cut(strings.TrimSpace(string(res.Stdout)), "\n")
	if v == "" {
		return "", errors.New("empty version output")
	}
	return v, nil
}
