package ui

import (
	"context"
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	"videograb/internal/model"
	"videograb/internal/pipeline"
	"videograb/internal/progress"
)

// Downloader is the part of pipeline.Service the TUI drives.
type Downloader interface {
	Download(ctx context.Context, req pipeline.DownloadRequest) (pipeline.DownloadResult, error)
}

// Options controls a grab session.
type Options struct {
	Jobs     int
	Selector model.StreamSelector
}

type Model struct {
	ctx    context.Context
	cancel context.CancelFunc

	svc  Downloader
	opts Options

	// Jobs
	urls     []string
	jobOrder []string
	jobs     map[string]*jobState
	workers  int
	running  int
	next     int // next index in urls to start

	// UI
	width, height int
	styles        Styles

	// Reporter events are funneled here and turned into tea messages.
	eventCh chan tea.Msg
}

func NewModel(ctx context.Context, svc Downloader, urls []string, opts Options) Model {
	c, cancel := context.WithCancel(ctx)
	sty := DefaultStyles()

	jobs := make(map[string]*jobState, len(urls))
	order := make([]string, 0, len(urls))
	for i, u := range urls {
		id := toID(i)
		jobs[id] = newJobState(id, u, sty)
		order = append(order, id)
	}

	workers := opts.Jobs
	if workers <= 0 {
		workers = 2
	}

	return Model{
		ctx:      c,
		cancel:   cancel,
		svc:      svc,
		opts:     opts,
		urls:     urls,
		jobs:     jobs,
		jobOrder: order,
		workers:  workers,
		styles:   sty,
		eventCh:  make(chan tea.Msg, 256),
	}
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, id := range m.jobOrder {
		cmds = append(cmds, m.jobs[id].spinner.Tick)
	}
	cmds = append(cmds, m.listenEventsCmd(), func() tea.Msg { return startMsg{} })
	return tea.Batch(cmds...)
}

type startMsg struct{}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case startMsg:
		return m.startJobs()

	case jobUpdateMsg:
		if js, ok := m.jobs[msg.U.JobID]; ok {
			js.apply(msg.U)
		}
		return m, m.listenEventsCmd()

	case jobLogMsg:
		return m, m.listenEventsCmd()

	case jobResultMsg:
		js, ok := m.jobs[msg.R.JobID]
		if !ok || !js.finish(msg.R) {
			return m, m.listenEventsCmd()
		}
		m.running--
		next, cmd := m.startJobs()
		return next, tea.Batch(cmd, m.listenEventsCmd())

	case allDoneMsg:
		return m, tea.Quit
	}

	var cmds []tea.Cmd
	for _, id := range m.jobOrder {
		js := m.jobs[id]
		var c tea.Cmd
		js.spinner, c = js.spinner.Update(msg)
		if c != nil {
			cmds = append(cmds, c)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	summary := m.viewSummary()
	if summary != "" {
		return m.viewHeader() + "\n\n" + m.viewJobs() + "\n" + summary
	}
	return m.viewHeader() + "\n\n" + m.viewJobs()
}

func (m Model) listenEventsCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return allDoneMsg{}
		case msg := <-m.eventCh:
			return msg
		}
	}
}

// startJobs fills free worker slots. It quits once every job has reported.
func (m Model) startJobs() (Model, tea.Cmd) {
	if m.ctx.Err() != nil {
		return m, tea.Quit
	}
	var cmds []tea.Cmd
	for m.running < m.workers && m.next < len(m.urls) {
		id := m.jobOrder[m.next]
		url := m.urls[m.next]
		m.next++
		m.running++
		if js := m.jobs[id]; js != nil {
			js.started = true
			js.status = "Resolving"
			js.stage = progress.StageMetadata
		}
		cmds = append(cmds, m.runJobCmd(id, url))
	}
	if m.next >= len(m.urls) && m.running == 0 {
		return m, tea.Quit
	}
	return m, tea.Batch(cmds...)
}

// runJobCmd downloads one URL. Its outcome arrives through the reporter, so
// the command itself yields no message.
func (m Model) runJobCmd(id, url string) tea.Cmd {
	svc, ctx, sel := m.svc, m.ctx, m.opts.Selector
	rep := teaReporter{ch: m.eventCh, done: ctx.Done()}
	return func() tea.Msg {
		_, _ = svc.Download(ctx, pipeline.DownloadRequest{
			URL:      url,
			Selector: sel,
			Reporter: rep,
			JobID:    id,
		})
		return nil
	}
}

// Failed lists "url: error" for every job that ended in error.
func (m Model) Failed() []string {
	var out []string
	for _, id := range m.jobOrder {
		js := m.jobs[id]
		if js != nil && js.err != nil {
			out = append(out, fmt.Sprintf("%s: %s", js.url, js.err))
		}
	}
	return out
}

type teaReporter struct {
	ch   chan tea.Msg
	done <-chan struct{}
}

func (r teaReporter) Update(u progress.Update) {
	// Terminal stages must not be dropped.
	if u.Stage == progress.StageCompleted || u.Stage == progress.StageError {
		r.send(jobUpdateMsg{U: u})
		return
	}
	select {
	case r.ch <- jobUpdateMsg{U: u}:
	default:
	}
}

func (r teaReporter) Log(l progress.Log) {
	select {
	case r.ch <- jobLogMsg{L: l}:
	default:
	}
}

func (r teaReporter) Result(res progress.Result) {
	r.send(jobResultMsg{R: res})
}

func (r teaReporter) send(msg tea.Msg) {
	select {
	case r.ch <- msg:
	case <-r.done:
	}
}

func toID(i int) string {
	return "job-" + strconv.Itoa(i)
}
