package util

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdoutLines(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	var lines []string
	res, err := NewDefaultRunner().Run(context.Background(), CmdSpec{
		Path:          sh,
		Args:          []string{"-c", "echo one; echo two"},
		StdoutLine:    func(l string) { lines = append(lines, l) },
		CaptureStdout: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Code != 0 {
		t.Errorf("Code = %d, want 0", res.Code)
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Errorf("lines = %v", lines)
	}
	if string(res.Stdout) != "one\ntwo\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	res, err := Run(context.Background(), CmdSpec{
		Path: sh,
		Args: []string{"-c", "echo boom 1>&2; exit 3"},
	})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.Code != 3 {
		t.Errorf("Code = %d, want 3", res.Code)
	}
	if !strings.Contains(string(res.Stderr), "boom") {
		t.Errorf("Stderr = %q, want boom", res.Stderr)
	}
}

func TestShellQuote(t *testing.T) {
	got := shellQuote("yt-dlp", []string{"-f", "best", "https://x/?a=1&b=2", ""})
	want := "yt-dlp -f best 'https://x/?a=1&b=2' ''"
	if got != want {
		t.Errorf("shellQuote() = %q, want %q", got, want)
	}
}

func TestRunLogsOutputAtDebug(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	res, err := Run(context.Background(), CmdSpec{
		Path:   sh,
		Args:   []string{"-c", "echo hello"},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(res.Stdout) != "hello\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	out := buf.String()
	if !strings.Contains(out, "msg=exec") || !strings.Contains(out, "line=hello") {
		t.Errorf("debug log = %q", out)
	}
}

func TestRunContextCancel(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Run(ctx, CmdSpec{Path: sh, Args: []string{"-c", "exec sleep 10"}})
	if err == nil || !strings.Contains(err.Error(), "aborted") {
		t.Fatalf("Run() error = %v, want aborted", err)
	}
}
