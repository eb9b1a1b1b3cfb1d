package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"videograb/internal/model"
	"videograb/internal/pipeline"
	"videograb/internal/progress"
	"videograb/internal/util"
)

type fakeDownloader struct {
	err error
}

func (f fakeDownloader) Download(ctx context.Context, req pipeline.DownloadRequest) (pipeline.DownloadResult, error) {
	req.Reporter.Update(progress.Update{JobID: req.JobID, Stage: progress.StageDownloading, Percent: 50})
	if f.err != nil {
		req.Reporter.Result(progress.Result{JobID: req.JobID, Err: f.err})
		return pipeline.DownloadResult{}, f.err
	}
	req.Reporter.Result(progress.Result{JobID: req.JobID, OutputPath: "/dl/" + req.JobID + ".mp4", Bytes: 1024})
	return pipeline.DownloadResult{}, nil
}

func TestModel_SchedulesWithinWorkerLimit(t *testing.T) {
	m := NewModel(context.Background(), fakeDownloader{}, []string{"u0", "u1", "u2"}, Options{Jobs: 2})
	m, _ = m.startJobs()
	if m.running != 2 || m.next != 2 {
		t.Fatalf("running=%d next=%d, want 2/2", m.running, m.next)
	}
	if m.jobs["job-2"].started {
		t.Fatalf("third job started before a slot freed")
	}

	tm, _ := m.Update(jobResultMsg{R: progress.Result{JobID: "job-0", OutputPath: "/dl/a.mp4", Bytes: 2048}})
	m = tm.(Model)
	if m.running != 2 || m.next != 3 {
		t.Fatalf("after one result running=%d next=%d, want 2/3", m.running, m.next)
	}
	js := m.jobs["job-0"]
	if !js.done || js.stage != progress.StageCompleted || js.percent != 100 {
		t.Fatalf("job-0 state = %+v", js)
	}
	if !strings.Contains(js.status, "Saved: a.mp4") {
		t.Errorf("status = %q", js.status)
	}

	tm, _ = m.Update(jobResultMsg{R: progress.Result{JobID: "job-1", Err: errors.New("boom")}})
	m = tm.(Model)
	failed := m.Failed()
	if len(failed) != 1 || failed[0] != "u1: boom" {
		t.Errorf("Failed() = %v", failed)
	}
	if !strings.Contains(m.View(), "/dl/a.mp4") {
		t.Errorf("summary missing completed file:\n%s", m.View())
	}
}

func TestModel_IgnoresUpdatesAfterResult(t *testing.T) {
	m := NewModel(context.Background(), fakeDownloader{}, []string{"u0"}, Options{Jobs: 1})
	m.next, m.running = 1, 1

	tm, _ := m.Update(jobUpdateMsg{U: progress.Update{JobID: "job-0", Stage: progress.StageDownloading, Percent: 42, Message: "42%"}})
	m = tm.(Model)
	if got := m.jobs["job-0"].percent; got != 42 {
		t.Fatalf("percent = %v, want 42", got)
	}

	tm, _ = m.Update(jobResultMsg{R: progress.Result{JobID: "job-0", OutputPath: "/dl/t.jpg", IsFallback: true}})
	m = tm.(Model)
	tm, _ = m.Update(jobUpdateMsg{U: progress.Update{JobID: "job-0", Stage: progress.StageDownloading, Percent: 10}})
	m = tm.(Model)

	js := m.jobs["job-0"]
	if js.stage != progress.StageCompleted || !js.fallback {
		t.Fatalf("job state = %+v", js)
	}
	if !strings.Contains(m.View(), "thumbnail only") {
		t.Errorf("view does not flag fallback:\n%s", m.View())
	}
}

func TestRunJobCmd_ForwardsReporterEvents(t *testing.T) {
	m := NewModel(context.Background(), fakeDownloader{}, []string{"u0"}, Options{})
	if msg := m.runJobCmd("job-0", "u0")(); msg != nil {
		t.Fatalf("job command returned %T, want nil", msg)
	}

	first := <-m.eventCh
	if u, ok := first.(jobUpdateMsg); !ok || u.U.Percent != 50 {
		t.Fatalf("first event = %#v", first)
	}
	second := <-m.eventCh
	r, ok := second.(jobResultMsg)
	if !ok || r.R.OutputPath != "/dl/job-0.mp4" {
		t.Fatalf("second event = %#v", second)
	}
}

func TestPlainReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainReporter(&buf, false)
	r.Update(progress.Update{JobID: "j", Stage: progress.StageMetadata, Percent: -1, Message: "Resolving x"})
	for _, p := range []float64{1, 5, 12, 15, 99} {
		r.Update(progress.Update{JobID: "j", Stage: progress.StageDownloading, Percent: p})
	}
	r.Log(progress.Log{JobID: "j", Line: "hidden"})
	r.Result(progress.Result{JobID: "j", OutputPath: "/dl/a.mp4", Bytes: 1536})

	out := buf.String()
	for _, want := range []string{"metadata: Resolving x", "downloading   1%", "downloading  12%", "downloading  99%", "Saved: /dl/a.mp4 (1.5 KB)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "  5%") || strings.Contains(out, "hidden") {
		t.Errorf("unexpected line in output:\n%s", out)
	}
}

func TestRenderInfo(t *testing.T) {
	out := RenderInfo(pipeline.InfoResult{
		Platform: util.PlatformYouTube,
		Video: model.VideoDescriptor{
			ID:     "dQw4w9WgXcQ",
			Title:  "Never Gonna",
			Length: 213,
			Source: "library",
			Streams: []model.StreamDescriptor{
				{FormatID: "18", Resolution: "360p", MimeType: "video/mp4", SizeMB: 12.5},
				{FormatID: "22", Resolution: "720p", MimeType: "video/mp4"},
			},
		},
	})
	for _, want := range []string{"Never Gonna", "dQw4w9WgXcQ", "3m33s", "Streams (2)", "360p", "(default)", "12.5 MB"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderInfo missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 10); got != "héllo" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("héllo world", 4); got != "hél…" {
		t.Errorf("truncate long = %q", got)
	}
}
