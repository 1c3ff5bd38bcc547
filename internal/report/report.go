// Package report renders per-video diagnostics for the period estimate: a
// PNG of the winning channel's autocorrelation and an HTML chart of the
// channel itself with the standard cycle highlighted.
package report

import (
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/cycle.report/internal/fsutil"
	"github.com/banshee-data/cycle.report/internal/periodicity"
	"github.com/banshee-data/cycle.report/internal/trajectory"
)

// Reporter writes diagnostics into Dir.
type Reporter struct {
	FS  fsutil.FileSystem
	Dir string
}

// Write renders both diagnostics for est and returns the paths written.
// cycleLen is 0 when no cycle could be cut.
func (r *Reporter) Write(traj *trajectory.Trajectory, chans []periodicity.Series, est *periodicity.Estimate, cycleLen int) ([]string, error) {
	if err := r.FS.MkdirAll(r.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report dir: %w", err)
	}

	pngPath := filepath.Join(r.Dir, traj.Video+"_autocorr.png")
	if err := r.PlotAutocorrelation(pngPath, traj.Video, est); err != nil {
		return nil, err
	}

	var values []float64
	for _, s := range chans {
		if s.Channel == est.Channel {
			values = s.Values
			break
		}
	}
	htmlPath := filepath.Join(r.Dir, traj.Video+"_channel.html")
	if err := r.WriteChannelChart(htmlPath, traj, est, values, cycleLen); err != nil {
		return nil, err
	}
	return []string{pngPath, htmlPath}, nil
}

// PlotAutocorrelation draws the retained autocorrelation window with the
// selected lag marked.
func (r *Reporter) PlotAutocorrelation(path, videoName string, est *periodicity.Estimate) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - autocorrelation of %s", videoName, est.Channel)
	p.X.Label.Text = "Lag (samples)"
	p.Y.Label.Text = "Autocorrelation"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(est.Autocorrelation))
	for i, v := range est.Autocorrelation {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("autocorrelation line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	peak, err := plotter.NewScatter(plotter.XYs{{X: float64(est.Lag), Y: est.Score}})
	if err != nil {
		return fmt.Errorf("peak marker: %w", err)
	}
	peak.GlyphStyle.Shape = draw.CircleGlyph{}
	peak.GlyphStyle.Radius = vg.Points(4)
	peak.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	p.Add(peak)
	p.Legend.Add(fmt.Sprintf("peak lag %d", est.Lag), peak)

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	w, err := r.FS.Create(path)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

// WriteChannelChart renders the winning channel against snapshot time, with
// the first cycleLen samples repeated as a second series.
func (r *Reporter) WriteChannelChart(path string, traj *trajectory.Trajectory, est *periodicity.Estimate, values []float64, cycleLen int) error {
	xs := make([]string, len(values))
	full := make([]opts.LineData, len(values))
	for i, v := range values {
		xs[i] = fmt.Sprintf("%.2f", traj.Snapshots[i].Timestamp)
		full[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: traj.Video + " cycle", Width: "1200px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s - %s", traj.Video, est.Channel),
			Subtitle: fmt.Sprintf("period %d samples, score %.4g, %d snapshots", est.Lag, est.Score, len(values)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs).AddSeries(est.Channel.String(), full)
	if cycleLen > 0 && cycleLen <= len(full) {
		line.AddSeries("standard cycle", full[:cycleLen])
	}

	page := components.NewPage()
	page.AddCharts(line)

	w, err := r.FS.Create(path)
	if err != nil {
		return err
	}
	if err := page.Render(w); err != nil {
		w.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return w.Close()
}
