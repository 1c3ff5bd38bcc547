// Command cycle-report samples pose keypoints from every video in a
// directory, estimates the dominant movement period and exports the full
// trajectory plus one standard cycle per video as JSON.
//
// Usage:
//
//	cycle-report [-config cycle.yaml] [-input 01] [-output .] [-stride 5] [-max-lag 200]
//	cycle-report -analyse squat.json
//	cycle-report -db runs.db -runs 5
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/cycle.report/internal/config"
	"github.com/banshee-data/cycle.report/internal/export"
	"github.com/banshee-data/cycle.report/internal/fsutil"
	"github.com/banshee-data/cycle.report/internal/monitoring"
	"github.com/banshee-data/cycle.report/internal/periodicity"
	"github.com/banshee-data/cycle.report/internal/pipeline"
	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/report"
	"github.com/banshee-data/cycle.report/internal/runstore"
	"github.com/banshee-data/cycle.report/internal/timeutil"
	"github.com/banshee-data/cycle.report/internal/trajectory"
	"github.com/banshee-data/cycle.report/internal/version"
	"github.com/banshee-data/cycle.report/internal/video"
)

// options holds the parsed command line. Flags left unset do not override
// the configuration.
type options struct {
	configPath  string
	analyse     string
	runs        int
	showVersion bool
	set         map[string]bool

	input     string
	output    string
	framesDir string
	reportDir string
	dbPath    string
	detector  string
	stride    int
	maxLag    int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("cycle-report", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{set: map[string]bool{}}
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON/YAML/TOML config file")
	fs.StringVar(&o.analyse, "analyse", "", "Re-analyse an existing full JSON artifact instead of processing videos")
	fs.IntVar(&o.runs, "runs", 0, "List the N most recent runs from the ledger and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.StringVar(&o.input, "input", "", "Directory of videos to process (input.dir)")
	fs.StringVar(&o.output, "output", "", "Directory for JSON artifacts (output.dir)")
	fs.StringVar(&o.framesDir, "frames", "", "Directory for sampled stills (output.frames_dir)")
	fs.StringVar(&o.reportDir, "report-dir", "", "Directory for diagnostic plots, empty to disable (output.report_dir)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite run ledger path, empty to disable (store.path)")
	fs.StringVar(&o.detector, "detector", "", "Pose detector gRPC address (detector.address)")
	fs.IntVar(&o.stride, "stride", 0, "Sample every Nth frame (sampling.frame_stride)")
	fs.IntVar(&o.maxLag, "max-lag", 0, "Autocorrelation lag horizon in samples (analysis.max_lag)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply copies explicitly set flags over cfg and revalidates it.
func (o *options) apply(cfg *config.Config) error {
	if o.set["input"] {
		cfg.Input.Dir = o.input
	}
	if o.set["output"] {
		cfg.Output.Dir = o.output
	}
	if o.set["frames"] {
		cfg.Output.FramesDir = o.framesDir
	}
	if o.set["report-dir"] {
		cfg.Output.ReportDir = o.reportDir
	}
	if o.set["db"] {
		cfg.Store.Path = o.dbPath
	}
	if o.set["detector"] {
		cfg.Detector.Address = o.detector
	}
	if o.set["stride"] {
		cfg.Sampling.FrameStride = o.stride
	}
	if o.set["max-lag"] {
		cfg.Analysis.MaxLag = o.maxLag
	}
	return cfg.Validate()
}

// newProcessor wires the analysis and export stages. Video decoding and
// detection are attached only for batch runs.
func newProcessor(cfg *config.Config, files fsutil.FileSystem) *pipeline.Processor {
	p := &pipeline.Processor{
		Landmarks: pose.BlazePose13,
		Estimator: periodicity.NewEstimator(cfg.Analysis.MaxLag),
		Writer:    &export.Writer{FS: files, Dir: cfg.Output.Dir},
		Clock:     timeutil.RealClock{},
	}
	if cfg.Output.ReportDir != "" {
		p.Reporter = &report.Reporter{FS: files, Dir: cfg.Output.ReportDir}
	}
	return p
}

func runAnalyse(cfg *config.Config, files fsutil.FileSystem, path string) error {
	res, err := newProcessor(cfg, files).AnalyseFile(files, path)
	if err != nil {
		return err
	}
	if res.PeriodErr != nil {
		return res.PeriodErr
	}
	monitoring.Logf("%s: %d snapshots, cycle of %d written to %s", res.Video, res.Snapshots, res.CycleLength, res.CyclePath)
	return nil
}

// listRuns prints the most recent ledger runs with their per-video outcomes.
func listRuns(cfg *config.Config, files fsutil.FileSystem, w io.Writer, limit int) error {
	if cfg.Store.Path == "" {
		return errors.New("store.path (or -db) is required to list runs")
	}
	// Opening would create an empty ledger.
	if !files.Exists(cfg.Store.Path) {
		return fmt.Errorf("no run ledger at %s", cfg.Store.Path)
	}
	store, err := runstore.Open(cfg.Store.Path, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Runs(limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		finished := "running"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s  %s  %s  videos=%d failures=%d  %s\n",
			r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.InputDir, r.Videos, r.Failures, finished)

		videos, err := store.Videos(r.ID)
		if err != nil {
			return err
		}
		for _, v := range videos {
			fmt.Fprintf(w, "  %-24s %-8s snapshots=%d", v.Video, v.Status, v.Snapshots)
			if v.Channel != "" {
				fmt.Fprintf(w, " %s period=%d score=%.4g", v.Channel, v.Period, v.Score)
			}
			if v.Error != "" {
				fmt.Fprintf(w, " error=%q", v.Error)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, files fsutil.FileSystem) (*pipeline.Summary, error) {
	detector, err := pose.DialDetector(cfg.Detector.Address, cfg.Detector.Timeout, cfg.Detector.JPEGQuality)
	if err != nil {
		return nil, err
	}
	defer detector.Close()

	proc := newProcessor(cfg, files)
	proc.Open = func(ctx context.Context, path string) (pipeline.Source, error) {
		r, err := video.Open(ctx, cfg.Tools.FFmpeg, cfg.Tools.FFprobe, path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	proc.Builder = &trajectory.Builder{
		Stride:    cfg.Sampling.FrameStride,
		Detector:  detector,
		Landmarks: proc.Landmarks,
		Sink:      &trajectory.JPEGSink{FS: files, Dir: cfg.Output.FramesDir, Quality: cfg.Detector.JPEGQuality},
	}

	batch := &pipeline.Batch{
		FS:        files,
		Processor: proc,
		Match:     cfg.HasExtension,
		Clock:     timeutil.RealClock{},
	}
	if cfg.Store.Path != "" {
		store, err := runstore.Open(cfg.Store.Path, timeutil.RealClock{})
		if err != nil {
			return nil, err
		}
		defer store.Close()
		batch.Ledger = store
	}
	return batch.Run(ctx, cfg.Input.Dir)
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	files := fsutil.OSFileSystem{}
	if opts.runs > 0 {
		if err := listRuns(cfg, files, stdout, opts.runs); err != nil {
			fmt.Fprintf(stderr, "runs: %v\n", err)
			return 1
		}
		return 0
	}
	if opts.analyse != "" {
		if err := runAnalyse(cfg, files, opts.analyse); err != nil {
			fmt.Fprintf(stderr, "analyse %s: %v\n", opts.analyse, err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := runBatch(ctx, cfg, files)
	if err != nil {
		fmt.Fprintf(stderr, "batch: %v\n", err)
		return 1
	}
	if sum.Failures > 0 {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
