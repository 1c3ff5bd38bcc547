// Package export serializes trajectories and their standard cycle as JSON.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/cycle.report/internal/fsutil"
	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/trajectory"
)

// CyclePrefix is prepended to the video name for the cycle artifact.
const CyclePrefix = "standard_"

// Record is one snapshot in artifact form.
type Record struct {
	Index     int                   `json:"idx"`
	Timestamp float64               `json:"timestamp"`
	Landmarks map[string][3]float64 `json:"landmarks"`
	ImagePath string                `json:"img_path"`
}

// Records converts snapshots to records, preserving order and timestamps.
func Records(snaps []trajectory.Snapshot) []Record {
	out := make([]Record, len(snaps))
	for i, s := range snaps {
		lm := make(map[string][3]float64, len(s.Landmarks))
		for name, k := range s.Landmarks {
			lm[name] = k.Array()
		}
		out[i] = Record{Index: s.Index, Timestamp: s.Timestamp, Landmarks: lm, ImagePath: s.ImagePath}
	}
	return out
}

// Cycle returns the first n snapshots of traj, unmodified. The caller must
// have validated n against traj.Len().
func Cycle(traj *trajectory.Trajectory, n int) []trajectory.Snapshot {
	return traj.Prefix(n)
}

// Writer writes artifacts into Dir.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
}

// FullPath returns <Dir>/<video>.json.
func (w *Writer) FullPath(videoName string) string {
	return filepath.Join(w.Dir, videoName+".json")
}

// CyclePath returns <Dir>/standard_<video>.json.
func (w *Writer) CyclePath(videoName string) string {
	return filepath.Join(w.Dir, CyclePrefix+videoName+".json")
}

// WriteFull writes every snapshot of traj. It does not depend on period
// detection.
func (w *Writer) WriteFull(traj *trajectory.Trajectory) (string, error) {
	path := w.FullPath(traj.Video)
	return path, w.write(path, traj.Snapshots)
}

// WriteCycle writes the first n snapshots of traj.
func (w *Writer) WriteCycle(traj *trajectory.Trajectory, n int) (string, error) {
	if n < 1 || n > traj.Len() {
		return "", fmt.Errorf("cycle length %d outside trajectory of %d", n, traj.Len())
	}
	path := w.CyclePath(traj.Video)
	return path, w.write(path, Cycle(traj, n))
}

func (w *Writer) write(path string, snaps []trajectory.Snapshot) error {
	if err := w.FS.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	data, err := Marshal(snaps)
	if err != nil {
		return err
	}
	if err := w.FS.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Marshal renders snapshots as a pretty-printed JSON array with non-ASCII
// and HTML characters left unescaped.
func Marshal(snaps []trajectory.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Records(snaps)); err != nil {
		return nil, fmt.Errorf("failed to encode trajectory: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads a full artifact back into a Trajectory named after the file.
// The frame rate is recovered from the first snapshot with a non-zero
// timestamp, or left at zero.
func Load(fs fsutil.FileSystem, path string) (*trajectory.Trajectory, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	traj := trajectory.New(name, 0)
	for _, r := range records {
		lm := make(map[string]pose.Keypoint, len(r.Landmarks))
		for n, v := range r.Landmarks {
			lm[n] = pose.Keypoint{X: v[0], Y: v[1], Z: v[2]}
		}
		if traj.FrameRate == 0 && r.Timestamp > 0 {
			traj.FrameRate = float64(r.Index) / r.Timestamp
		}
		if err := traj.Append(trajectory.Snapshot{
			Index:     r.Index,
			Timestamp: r.Timestamp,
			Landmarks: lm,
			ImagePath: r.ImagePath,
		}); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return traj, nil
}
