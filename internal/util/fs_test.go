package util

import (
	"regexp"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "spaces", in: "My Cool Video", want: "My_Cool_Video"},
		{name: "path separators", in: "../../etc/passwd", want: "etc_passwd"},
		{name: "windows separators", in: `..\..\boot.ini`, want: "boot_ini"},
		{name: "unicode", in: "Café ☕ time", want: "Caf_time"},
		{name: "punctuation collapses", in: "a!!!b???c", want: "a_b_c"},
		{name: "keeps dash and underscore", in: "a-b_c", want: "a-b_c"},
		{name: "empty", in: "", want: "untitled"},
		{name: "only symbols", in: "!!!", want: "untitled"},
		{name: "non-latin title", in: "日本語のタイトル", want: "untitled"},
		{name: "nul byte", in: "a\x00b", want: "a_b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameShape(t *testing.T) {
	shape := regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
	inputs := []string{
		strings.Repeat("x", 200),
		strings.Repeat("ab ", 40),
		"日本語のタイトル",
		"‮txt.exe",
		"name/with/slashes/and spaces and a very long tail that keeps going",
	}
	for _, in := range inputs {
		got := SanitizeFilename(in)
		if !shape.MatchString(got) {
			t.Errorf("SanitizeFilename(%q) = %q, does not match %s", in, got, shape)
		}
	}
}

func TestSanitizeExt(t *testing.T) {
	tests := []struct {
		in, fallback, want string
	}{
		{in: "mp4", fallback: "bin", want: "mp4"},
		{in: ".MP4", fallback: "bin", want: "mp4"},
		{in: "webm", fallback: "bin", want: "webm"},
		{in: "../sh", fallback: "bin", want: "sh"},
		{in: "verylongext", fallback: "bin", want: "veryl"},
		{in: "", fallback: "mp4", want: "mp4"},
		{in: "???", fallback: "jpg", want: "jpg"},
	}
	for _, tt := range tests {
		if got := SanitizeExt(tt.in, tt.fallback); got != tt.want {
			t.Errorf("SanitizeExt(%q, %q) = %q, want %q", tt.in, tt.fallback, got, tt.want)
		}
	}
}
