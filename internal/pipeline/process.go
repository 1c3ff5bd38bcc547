package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/cycle.report/internal/export"
	"github.com/banshee-data/cycle.report/internal/fsutil"
	"github.com/banshee-data/cycle.report/internal/monitoring"
	"github.com/banshee-data/cycle.report/internal/periodicity"
	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/report"
	"github.com/banshee-data/cycle.report/internal/timeutil"
	"github.com/banshee-data/cycle.report/internal/trajectory"
)

// ErrEmptyTrajectory is returned when no sampled frame had a pose. It wraps
// periodicity.ErrNoEstimate since nothing can be scored.
var ErrEmptyTrajectory = fmt.Errorf("empty trajectory: %w", periodicity.ErrNoEstimate)

// Source is an open video.
type Source interface {
	trajectory.FrameSource
	Close() error
}

// OpenFunc opens the video at path for decoding.
type OpenFunc func(ctx context.Context, path string) (Source, error)

// Result describes what was produced for one video.
type Result struct {
	Video     string
	Snapshots int
	Estimate  *periodicity.Estimate // nil when no channel could be scored
	// CycleLength is the standard cycle size, or 0 when PeriodErr is set.
	CycleLength int
	PeriodErr   error
	FullPath    string
	CyclePath   string
	Reports     []string
	Elapsed     time.Duration
}

// Processor holds the stages shared by every video of a run.
type Processor struct {
	Open      OpenFunc
	Builder   *trajectory.Builder
	Landmarks pose.LandmarkSet
	Estimator *periodicity.Estimator
	Writer    *export.Writer
	Reporter  *report.Reporter // nil disables diagnostics
	Clock     timeutil.Clock
}

// VideoName returns the artifact stem for a video path.
func VideoName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (p *Processor) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

// ProcessVideo samples, analyses and exports the video at path.
//
// A period failure is not an error: the full artifact is still written and
// Result.PeriodErr says why there is no cycle. Errors returned here mean
// the video produced nothing usable.
func (p *Processor) ProcessVideo(ctx context.Context, path string) (*Result, error) {
	start := p.clock().Now()
	name := VideoName(path)

	src, err := p.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	traj, err := p.Builder.Build(ctx, name, src)
	if cerr := src.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	if err != nil {
		return nil, err
	}

	res, err := p.analyse(traj, true)
	if err != nil {
		return nil, err
	}
	res.Elapsed = p.clock().Since(start)
	return res, nil
}

// AnalyseFile reloads a full artifact from fs and re-runs period estimation
// and the cycle export. The full artifact is not rewritten.
func (p *Processor) AnalyseFile(fs fsutil.FileSystem, path string) (*Result, error) {
	start := p.clock().Now()
	traj, err := export.Load(fs, path)
	if err != nil {
		return nil, err
	}
	res, err := p.analyse(traj, false)
	if err != nil {
		return nil, err
	}
	res.FullPath = path
	res.Elapsed = p.clock().Since(start)
	return res, nil
}

func (p *Processor) analyse(traj *trajectory.Trajectory, writeFull bool) (*Result, error) {
	logf := monitoring.ForVideo(traj.Video)
	res := &Result{Video: traj.Video, Snapshots: traj.Len()}
	if traj.Len() == 0 {
		return nil, ErrEmptyTrajectory
	}

	if writeFull {
		path, err := p.Writer.WriteFull(traj)
		if err != nil {
			return nil, err
		}
		res.FullPath = path
	}

	chans := periodicity.Channels(traj, p.Landmarks)
	est, err := p.Estimator.Estimate(chans)
	if err != nil {
		res.PeriodErr = err
		logf("no cycle: %v", err)
		return res, nil
	}
	res.Estimate = est

	n, err := est.CycleLength(traj.Len())
	if err != nil {
		res.PeriodErr = err
		logf("no cycle: %v", err)
	} else {
		path, err := p.Writer.WriteCycle(traj, n)
		if err != nil {
			return nil, err
		}
		res.CycleLength = n
		res.CyclePath = path
		logf("period %d snapshots on %s (score %.4g)", n, est.Channel, est.Score)
	}

	if p.Reporter != nil {
		paths, err := p.Reporter.Write(traj, chans, est, res.CycleLength)
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		res.Reports = paths
	}
	return res, nil
}
