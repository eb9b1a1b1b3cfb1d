package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"videograb/internal/progress"
	"videograb/internal/resolver"
	"videograb/internal/storage"
	"videograb/internal/util"
)

// fakeRunner records the last spec and plays back canned output. When write
// is set it creates that file relative to the -o template's directory, the
// way yt-dlp would.
type fakeRunner struct {
	stdout  string
	stderr  string
	err     error
	lines   []string
	write   func(template string)
	gotSpec util.CmdSpec
	// deadline is the context deadline of the last run.
	deadline time.Time
}

func (f *fakeRunner) Run(ctx context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	f.gotSpec = spec
	f.deadline, _ = ctx.Deadline()
	for _, l := range f.lines {
		if spec.StdoutLine != nil {
			spec.StdoutLine(l)
		}
	}
	if f.write != nil {
		for i, a := range spec.Args {
			if a == "-o" && i+1 < len(spec.Args) {
				f.write(spec.Args[i+1])
			}
		}
	}
	return util.CmdResult{Stdout: []byte(f.stdout), Stderr: []byte(f.stderr)}, f.err
}

type recorder struct {
	updates []progress.Update
	logs    []progress.Log
}

func (r *recorder) Update(u progress.Update) { r.updates = append(r.updates, u) }
func (r *recorder) Log(l progress.Log)       { r.logs = append(r.logs, l) }
func (r *recorder) Result(progress.Result)   {}

const dumpJSON = `{"id":"abc123","title":"Holiday clip","uploader":"someone","duration":61.5,
"thumbnail":"https://cdn.example/t.jpg","ext":"mp4",
"formats":[
 {"format_id":"hls-720","ext":"mp4","protocol":"m3u8_native","height":720,"vcodec":"avc1","acodec":"mp4a"},
 {"format_id":"sd","ext":"mp4","protocol":"https","url":"https://cdn.example/sd.mp4","height":360,"vcodec":"avc1","acodec":"mp4a","filesize":2097152},
 {"format_id":"hd","ext":"mp4","protocol":"https","url":"https://cdn.example/hd.mp4","height":720,"vcodec":"avc1","acodec":"mp4a","filesize_approx":5242880,"fps":30},
 {"format_id":"v-only","ext":"mp4","protocol":"https","height":1080,"vcodec":"avc1","acodec":"none"}
]}`

func newTestDownloader(t *testing.T, r *fakeRunner) *Downloader {
	t.Helper()
	d, err := New(Options{DownloaderPath: "yt-dlp", CookiesFile: "/etc/cookies.txt"}, WithRunner(r))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty downloader path")
	}
}

func TestResolve_ProgressiveFormats(t *testing.T) {
	r := &fakeRunner{stdout: dumpJSON}
	d := newTestDownloader(t, r)

	v, err := d.Resolve(context.Background(), "https://www.instagram.com/reel/xyz/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	args := strings.Join(r.gotSpec.Args, " ")
	for _, want := range []string{"--dump-json", "--no-playlist", "--referer https://www.instagram.com/", "--cookies /etc/cookies.txt", "--user-agent"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if last := r.gotSpec.Args[len(r.gotSpec.Args)-1]; last != "https://www.instagram.com/reel/xyz/" {
		t.Errorf("URL must be the last arg, got %q", last)
	}
	if sep := r.gotSpec.Args[len(r.gotSpec.Args)-2]; sep != "--" {
		t.Errorf("URL must follow the option terminator, got %q", sep)
	}

	if v.Title != "Holiday clip" || v.Author != "someone" || v.Length != 61 {
		t.Errorf("metadata = %+v", v)
	}
	if len(v.Streams) != 2 {
		t.Fatalf("streams = %d, want 2 (hls and video-only dropped)", len(v.Streams))
	}
	if v.Streams[0].FormatID != "hd" || v.Streams[0].Resolution != "720p" || v.Streams[0].SizeMB != 5 {
		t.Errorf("first stream = %+v", v.Streams[0])
	}
	if v.Streams[1].FormatID != "sd" || v.Streams[1].URL != "https://cdn.example/sd.mp4" {
		t.Errorf("second stream = %+v", v.Streams[1])
	}
}

func TestResolve_BestWhenNoProgressive(t *testing.T) {
	r := &fakeRunner{stdout: `{"id":"x","title":"t","ext":"webm","formats":[{"format_id":"a","vcodec":"none","acodec":"opus"}]}`}
	v, err := newTestDownloader(t, r).Resolve(context.Background(), "https://www.facebook.com/watch?v=1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(v.Streams) != 1 || v.Streams[0].FormatID != BestFormat || v.Streams[0].Ext != "webm" {
		t.Errorf("streams = %+v", v.Streams)
	}
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name string
		r    *fakeRunner
		want string
	}{
		{
			name: "non-zero exit without output",
			r:    &fakeRunner{err: errors.New("command failed (exit 1)"), stderr: "WARNING: x\nERROR: Unsupported URL"},
			want: "ERROR: Unsupported URL",
		},
		{
			name: "non-zero exit with stdout",
			r: &fakeRunner{
				stdout: dumpJSON,
				stderr: "ERROR: [Instagram] xyz: Requested content is not available",
				err:    errors.New("command failed (exit 1)"),
			},
			want: "Requested content is not available",
		},
		{
			name: "garbage stdout",
			r:    &fakeRunner{stdout: "not json"},
			want: "parse metadata JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestDownloader(t, tt.r).Resolve(context.Background(), "https://www.instagram.com/p/1/")
			if err == nil {
				t.Fatal("expected error")
			}
			var ee *resolver.ExtractionError
			if !errors.As(err, &ee) || ee.Strategy != resolver.NameSubprocess {
				t.Errorf("error %v is not a subprocess ExtractionError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q missing %q", err, tt.want)
			}
		})
	}
}

func TestParseInfo_MultipleDocuments(t *testing.T) {
	out := "WARNING: something\n" + `{"id":"first","title":"a"}` + "\n" + `{"id":"second","title":"b"}`
	info, err := parseInfo([]byte(out))
	if err != nil {
		t.Fatalf("parseInfo: %v", err)
	}
	if info.ID != "second" {
		t.Errorf("ID = %q, want second", info.ID)
	}
}

func TestFetch_StoresOutputAndReportsProgress(t *testing.T) {
	dir, err := storage.Open(filepath.Join(t.TempDir(), "dl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	r := &fakeRunner{
		lines: []string{"[download] Destination: x", "[download]  50.0% of 1.00KiB at 1.00KiB/s ETA 00:01"},
		write: func(tmpl string) {
			p := strings.Replace(tmpl, "%(ext)s", "mp4", 1)
			_ = os.WriteFile(p, []byte("video"), 0o644)
			_ = os.WriteFile(p+".part", []byte("v"), 0o644)
		},
	}
	d := newTestDownloader(t, r)
	rec := &recorder{}

	f, err := d.Fetch(context.Background(), resolver.FetchRequest{
		URL:      "https://www.instagram.com/reel/xyz/",
		Video:    describe(YTDLPInfo{ID: "xyz", Title: "Holiday clip"}),
		Stream:   describe(YTDLPInfo{ID: "xyz", Title: "Holiday clip"}).Streams[0],
		Dir:      dir,
		Reporter: rec,
		JobID:    "job",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasPrefix(f.Name, "Holiday_clip_") || !strings.HasSuffix(f.Name, ".mp4") || f.Size != 5 {
		t.Errorf("file = %+v", f)
	}
	if got := r.gotSpec.Args[:2]; got[0] != "-f" || got[1] != BestFormat {
		t.Errorf("format args = %v", got)
	}
	if len(rec.updates) != 2 || rec.updates[1].Percent != 50 {
		t.Errorf("updates = %+v", rec.updates)
	}
}

func TestFetch_FailureDiscardsPartials(t *testing.T) {
	dir, err := storage.Open(filepath.Join(t.TempDir(), "dl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()

	r := &fakeRunner{
		err: errors.New("command failed (exit 1)"),
		write: func(tmpl string) {
			_ = os.WriteFile(strings.Replace(tmpl, "%(ext)s", "mp4.part", 1), []byte("v"), 0o644)
		},
	}
	v := describe(YTDLPInfo{ID: "xyz", Title: "clip"})
	_, err = newTestDownloader(t, r).Fetch(context.Background(), resolver.FetchRequest{
		URL: "https://www.instagram.com/reel/xyz/", Video: v, Stream: v.Streams[0], Dir: dir,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	entries, _ := dir.List()
	if len(entries) != 0 {
		t.Errorf("partial output left behind: %d files", len(entries))
	}
}

func TestURLNeverParsedAsOption(t *testing.T) {
	const hostile = "--exec=touch.facebook.com/x"

	check := func(t *testing.T, args []string) {
		t.Helper()
		sep := -1
		for i, a := range args {
			if a == "--" {
				sep = i
				break
			}
		}
		if sep < 0 || sep != len(args)-2 || args[sep+1] != hostile {
			t.Fatalf("URL not isolated after --: %q", args)
		}
		for _, a := range args[:sep] {
			if strings.HasPrefix(a, "--exec") {
				t.Fatalf("user input reached the option list: %q", args)
			}
		}
	}

	r := &fakeRunner{stdout: dumpJSON}
	if _, err := newTestDownloader(t, r).Resolve(context.Background(), hostile); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	check(t, r.gotSpec.Args)

	dir, err := storage.Open(filepath.Join(t.TempDir(), "dl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()
	r = &fakeRunner{err: errors.New("command failed (exit 2)")}
	v := describe(YTDLPInfo{ID: "x", Title: "x"})
	_, _ = newTestDownloader(t, r).Fetch(context.Background(), resolver.FetchRequest{
		URL: hostile, Video: v, Stream: v.Streams[0], Dir: dir,
	})
	check(t, r.gotSpec.Args)
}

func TestResolve_UsesMetadataTimeout(t *testing.T) {
	r := &fakeRunner{stdout: dumpJSON}
	d, err := New(Options{DownloaderPath: "yt-dlp", Timeout: time.Hour, MetadataTimeout: 5 * time.Second}, WithRunner(r))
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := d.Resolve(context.Background(), "https://www.instagram.com/reel/xyz/"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.deadline.IsZero() || r.deadline.After(start.Add(time.Minute)) {
		t.Errorf("metadata deadline = %v, want about 5s from %v", r.deadline, start)
	}

	d, _ = New(Options{DownloaderPath: "yt-dlp"}, WithRunner(r))
	if d.opts.MetadataTimeout != DefaultMetadataTimeout {
		t.Errorf("default MetadataTimeout = %v", d.opts.MetadataTimeout)
	}
}
