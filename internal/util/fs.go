package util

import (
	"errors"
	"os"
	"strings"
)

// MaxTitleLen bounds the sanitized title part of a stored file name.
const MaxTitleLen = 50

// EnsureDir creates the directory path if it does not exist.
func EnsureDir(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return os.MkdirAll(path, 0o755)
}

// SanitizeFilename reduces a title to a safe file name stem:
// - Spaces become underscores
// - Anything outside [A-Za-z0-9_-] becomes an underscore
// - Runs of underscores collapse and edge separators are trimmed
// - The result is at most MaxTitleLen bytes
//
// Non-ASCII letters are dropped too; the display name keeps the real title.
func SanitizeFilename(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_-")
	if len(out) > MaxTitleLen {
		out = strings.TrimRight(out[:MaxTitleLen], "_-")
	}
	if out == "" {
		return "untitled"
	}
	return out
}

// SanitizeExt lowercases ext, drops anything outside [a-z0-9] and caps it
// at five characters. An empty result yields fallback.
func SanitizeExt(ext, fallback string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 5 {
			break
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}
