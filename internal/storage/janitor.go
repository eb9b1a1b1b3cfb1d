package storage

import (
	"context"
	"log/slog"
	"time"

	"videograb/internal/observability"
)

// SweepResult summarizes one janitor pass.
type SweepResult struct {
	Scanned int
	Removed int
	Failed  int
	Bytes   int64 // bytes reclaimed
}

// Sweep deletes regular files whose modification time is older than maxAge.
// Per-file failures are logged and skipped; the pass never aborts early.
func (d *Dir) Sweep(maxAge time.Duration) (SweepResult, error) {
	var res SweepResult
	entries, err := d.List()
	if err != nil {
		return res, err
	}
	cutoff := d.now().Add(-maxAge)
	for _, e := range entries {
		res.Scanned++
		info, err := e.Info()
		if err != nil {
			// Removed by someone else between ReadDir and Info.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := d.root.Remove(e.Name()); err != nil {
			res.Failed++
			d.logger.Warn("sweep: remove failed", "name", e.Name(), "error", err)
			continue
		}
		res.Removed++
		res.Bytes += info.Size()
		d.logger.Debug("sweep: removed", "name", e.Name(), "age", d.now().Sub(info.ModTime()).Round(time.Second))
	}
	return res, nil
}

// Janitor sweeps a Dir on a fixed schedule, independent of request traffic.
type Janitor struct {
	dir      *Dir
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	metrics  observability.Metrics
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

func WithJanitorLogger(l *slog.Logger) JanitorOption {
	return func(j *Janitor) { j.logger = l }
}

func WithJanitorMetrics(m observability.Metrics) JanitorOption {
	return func(j *Janitor) { j.metrics = m }
}

// NewJanitor returns a janitor that removes files older than maxAge every
// interval.
func NewJanitor(dir *Dir, interval, maxAge time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{dir: dir, interval: interval, maxAge: maxAge}
	for _, o := range opts {
		o(j)
	}
	j.logger = observability.OrDiscard(j.logger)
	j.metrics = observability.OrNop(j.metrics)
	if j.interval <= 0 {
		j.interval = 10 * time.Minute
	}
	if j.maxAge <= 0 {
		j.maxAge = time.Hour
	}
	return j
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.SweepOnce()
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.SweepOnce()
		}
	}
}

// SweepOnce runs a single pass and logs its outcome.
func (j *Janitor) SweepOnce() SweepResult {
	start := time.Now()
	res, err := j.dir.Sweep(j.maxAge)
	j.metrics.RecordDuration("sweep", time.Since(start).Seconds())
	if err != nil {
		j.metrics.RecordError("sweep", "list")
		j.logger.Error("sweep failed", "dir", j.dir.Path(), "error", err)
		return res
	}
	if res.Failed > 0 {
		j.metrics.RecordError("sweep", "remove")
	} else {
		j.metrics.RecordSuccess("sweep")
	}
	if res.Removed > 0 || res.Failed > 0 {
		j.logger.Info("sweep finished",
			"dir", j.dir.Path(),
			"scanned", res.Scanned,
			"removed", res.Removed,
			"failed", res.Failed,
			"bytes", res.Bytes,
		)
	}
	return res
}
