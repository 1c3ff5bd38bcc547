package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/cycle.report/internal/fsutil"
	"github.com/banshee-data/cycle.report/internal/monitoring"
	"github.com/banshee-data/cycle.report/internal/runstore"
	"github.com/banshee-data/cycle.report/internal/timeutil"
)

// Ledger records run outcomes. *runstore.Store satisfies it.
type Ledger interface {
	BeginRun(inputDir string) (*runstore.Run, error)
	RecordVideo(runID string, o runstore.VideoOutcome) error
	FinishRun(runID string, videos, failures int) error
}

// Summary totals a batch run.
type Summary struct {
	RunID     string // empty without a ledger
	Processed int
	Cycles    int
	Empty     int
	Failures  int
	Elapsed   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("processed %d videos: %d cycles exported, %d without pose, %d failed in %s",
		s.Processed, s.Cycles, s.Empty, s.Failures, s.Elapsed.Round(time.Millisecond))
}

// Batch processes every matching video in a directory, one at a time in
// name order. A failing video is logged and counted; the batch continues.
type Batch struct {
	FS        fsutil.FileSystem
	Processor *Processor
	Match     func(name string) bool
	Ledger    Ledger // optional
	Clock     timeutil.Clock
}

// Videos lists the matching files directly under dir, sorted by name.
func (b *Batch) Videos(dir string) ([]string, error) {
	entries, err := b.FS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !b.Match(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// Run processes dir. It returns an error only when the directory cannot be
// listed, the ledger fails, or ctx is cancelled; per-video failures are in
// the summary.
func (b *Batch) Run(ctx context.Context, dir string) (*Summary, error) {
	clock := b.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()

	paths, err := b.Videos(dir)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("found %d videos in %s", len(paths), dir)

	sum := &Summary{}
	if b.Ledger != nil {
		run, err := b.Ledger.BeginRun(dir)
		if err != nil {
			return nil, err
		}
		sum.RunID = run.ID
		monitoring.Logf("run %s", run.ID)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return b.finish(sum, clock, start, err)
		}

		res, err := b.Processor.ProcessVideo(ctx, path)
		if ctx.Err() != nil {
			return b.finish(sum, clock, start, ctx.Err())
		}
		sum.Processed++
		outcome := tally(sum, VideoName(path), res, err)
		if err != nil && !errors.Is(err, ErrEmptyTrajectory) {
			monitoring.Logf("failed to process %s: %v", path, err)
		} else if err != nil {
			monitoring.ForVideo(outcome.Video)("no pose in any sampled frame, nothing exported")
		}

		if b.Ledger != nil {
			if err := b.Ledger.RecordVideo(sum.RunID, outcome); err != nil {
				return b.finish(sum, clock, start, err)
			}
		}
	}

	return b.finish(sum, clock, start, nil)
}

func (b *Batch) finish(sum *Summary, clock timeutil.Clock, start time.Time, cause error) (*Summary, error) {
	sum.Elapsed = clock.Since(start)
	monitoring.Logf("%s", sum)
	if b.Ledger != nil && sum.RunID != "" {
		if err := b.Ledger.FinishRun(sum.RunID, sum.Processed, sum.Failures); err != nil && cause == nil {
			cause = err
		}
	}
	return sum, cause
}

// tally folds one video's result into sum and returns its ledger row.
func tally(sum *Summary, name string, res *Result, err error) runstore.VideoOutcome {
	o := runstore.VideoOutcome{Video: name}
	switch {
	case errors.Is(err, ErrEmptyTrajectory):
		sum.Empty++
		o.Status = runstore.StatusEmpty
		return o
	case err != nil:
		sum.Failures++
		o.Status = runstore.StatusFailed
		o.Error = err.Error()
		return o
	}

	o.Snapshots = res.Snapshots
	o.FullPath = res.FullPath
	o.CyclePath = res.CyclePath
	o.Elapsed = res.Elapsed
	if res.Estimate != nil {
		o.Channel = res.Estimate.Channel.String()
		o.Period = res.Estimate.Lag
		o.Score = res.Estimate.Score
	}
	if res.PeriodErr != nil {
		o.Status = runstore.StatusNoCycle
		o.Error = res.PeriodErr.Error()
	} else {
		sum.Cycles++
		o.Status = runstore.StatusOK
	}
	return o
}
