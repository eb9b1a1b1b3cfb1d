package util

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// maxLine bounds a single output line; yt-dlp --dump-json emits one line
// that can exceed 500KB for long YouTube videos.
const maxLine = 4 << 20

// waitDelay is how long Wait keeps copying output after the process exits.
const waitDelay = 5 * time.Second

// CmdSpec describes a subprocess to run.
type CmdSpec struct {
	Path string
	Args []string
	Env  []string // appended to the inherited environment
	Dir  string

	StdoutLine func(string)
	StderrLine func(string)
	// CaptureStdout buffers stdout into CmdResult even when StdoutLine is set.
	CaptureStdout bool

	// Logger, when set, receives the command line and every output line at
	// debug level.
	Logger *slog.Logger
}

// CmdResult contains captured output and exit status.
type CmdResult struct {
	Stdout []byte
	Stderr []byte
	Code   int
	Err    error
}

// CmdRunner runs subprocesses. Tests substitute a fake to avoid spawning yt-dlp.
type CmdRunner interface {
	Run(ctx context.Context, spec CmdSpec) (CmdResult, error)
}

type defaultRunner struct{}

func (defaultRunner) Run(ctx context.Context, spec CmdSpec) (CmdResult, error) {
	return Run(ctx, spec)
}

// NewDefaultRunner returns a CmdRunner backed by os/exec.
func NewDefaultRunner() CmdRunner {
	return defaultRunner{}
}

// Run executes the command and waits for it. Stderr is always captured;
// stdout is captured unless a StdoutLine callback consumes it. A non-zero
// exit returns an error carrying the code, with CmdResult still populated.
func Run(ctx context.Context, spec CmdSpec) (CmdResult, error) {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	// exec copies output into these pipes and, once the process has exited,
	// gives up on lingering grandchildren after WaitDelay.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if spec.Logger != nil {
		spec.Logger.Debug("exec", "cmd", shellQuote(spec.Path, spec.Args))
	}
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return CmdResult{Code: -1, Err: err}, err
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		capture := spec.CaptureStdout || spec.StdoutLine == nil
		scanLines(stdoutR, spec.Logger, "stdout", func(line string) {
			if spec.StdoutLine != nil {
				spec.StdoutLine(line)
			}
			if capture {
				stdoutBuf.WriteString(line)
				stdoutBuf.WriteByte('\n')
			}
		})
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrR, spec.Logger, "stderr", func(line string) {
			if spec.StderrLine != nil {
				spec.StderrLine(line)
			}
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
		})
	}()

	waitErr := cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	wg.Wait()

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	res := CmdResult{
		Stdout: stdoutBuf.Bytes(),
		Stderr: stderrBuf.Bytes(),
		Code:   code,
		Err:    waitErr,
	}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command aborted: %w", ctxErr)
		}
		return res, fmt.Errorf("command failed (exit %d): %w", code, waitErr)
	}
	return res, nil
}

func scanLines(r io.Reader, logger *slog.Logger, stream string, fn func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Text()
		fn(line)
		if logger != nil {
			logger.Debug("exec output", "stream", stream, "line", line)
		}
	}
	if err := sc.Err(); err != nil {
		if logger != nil {
			logger.Debug("exec output truncated", "stream", stream, "error", err)
		}
		// Keep the pipe drained so the process is not blocked on write.
		_, _ = io.Copy(io.Discard, r)
	}
}

// shellQuote returns a printable shell-like command string for logging.
func shellQuote(path string, args []string) string {
	b := &strings.Builder{}
	b.WriteString(quote(path))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	return b.String()
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t\n\"'\\$`(){}[]*&;|<>?!") {
		return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
	}
	return s
}
