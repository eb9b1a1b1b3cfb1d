package ui

import (
	"fmt"
	"io"
	"math"
	"sync"

	"videograb/internal/progress"
	"videograb/internal/util/format"
)

// PlainReporter prints progress as plain lines for non-TTY output. Download
// percentages are printed in 10% steps.
type PlainReporter struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	last    map[string]progress.Stage
	step    map[string]int
}

func NewPlainReporter(w io.Writer, verbose bool) *PlainReporter {
	return &PlainReporter{
		w:       w,
		verbose: verbose,
		last:    map[string]progress.Stage{},
		step:    map[string]int{},
	}
}

func (r *PlainReporter) Update(u progress.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.Stage == progress.StageDownloading && u.Percent >= 0 {
		step := int(math.Floor(u.Percent / 10))
		if prev, ok := r.step[u.JobID]; ok && step <= prev {
			return
		}
		r.step[u.JobID] = step
		fmt.Fprintf(r.w, "[%s] downloading %3.0f%%\n", u.JobID, u.Percent)
		r.last[u.JobID] = u.Stage
		return
	}
	if u.Stage == progress.StageCompleted || u.Stage == progress.StageError {
		return // Result prints the outcome
	}
	if r.last[u.JobID] == u.Stage && u.Message == "" {
		return
	}
	r.last[u.JobID] = u.Stage
	fmt.Fprintf(r.w, "[%s] %s: %s\n", u.JobID, u.Stage, u.Message)
}

func (r *PlainReporter) Log(l progress.Log) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "[%s] %s\n", l.JobID, l.Line)
}

func (r *PlainReporter) Result(res progress.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case res.Err != nil:
		fmt.Fprintf(r.w, "[%s] error: %v\n", res.JobID, res.Err)
	case res.IsFallback:
		fmt.Fprintf(r.w, "[%s] stream failed, saved thumbnail: %s (%s)\n", res.JobID, res.OutputPath, format.HumanizeBytes(res.Bytes))
	default:
		fmt.Fprintf(r.w, "Saved: %s (%s)\n", res.OutputPath, format.HumanizeBytes(res.Bytes))
	}
}
