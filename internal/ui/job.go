package ui

import (
	"fmt"
	"path/filepath"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"

	"videograb/internal/progress"
	"videograb/internal/util/format"
)

// jobState is one URL row in the grab view. Once done is set, further
// updates for the job are dropped.
type jobState struct {
	id     string
	url    string
	stage  progress.Stage
	status string
	err    error
	done   bool

	outputPath string
	bytes      int64
	percent    float64 // -1 until the transfer reports a total
	fallback   bool
	started    bool

	spinner spinner.Model
	bar     bubblesprogress.Model
}

func newJobState(id, url string, styles Styles) *jobState {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Spinner))
	return &jobState{
		id:      id,
		url:     url,
		stage:   progress.StageMetadata,
		status:  "queued",
		percent: -1,
		spinner: sp,
		bar:     bubblesprogress.New(bubblesprogress.WithDefaultGradient(), bubblesprogress.WithWidth(40)),
	}
}

func (js *jobState) apply(u progress.Update) {
	if js.done {
		return
	}
	js.stage = u.Stage
	js.percent = u.Percent
	if u.Message != "" {
		js.status = u.Message
	}
	if u.Bytes != nil {
		js.bytes = *u.Bytes
	}
}

// finish records the terminal result and reports whether it was the first.
func (js *jobState) finish(r progress.Result) bool {
	if js.done {
		return false
	}
	js.done = true
	js.err = r.Err
	if r.Err != nil {
		js.stage = progress.StageError
		js.status = r.Err.Error()
		js.percent = -1
		return true
	}
	js.stage = progress.StageCompleted
	js.percent = 100
	js.outputPath = r.OutputPath
	js.bytes = r.Bytes
	js.fallback = r.IsFallback
	verb := "Saved"
	if r.IsFallback {
		verb = "Saved thumbnail"
	}
	js.status = fmt.Sprintf("%s: %s (%s)", verb, filepath.Base(r.OutputPath), format.HumanizeBytes(r.Bytes))
	return true
}
