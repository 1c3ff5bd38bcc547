// Package trajectory samples a video into an ordered sequence of per-frame
// keypoint snapshots.
package trajectory

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cycle.report/internal/pose"
)

// ErrOutOfOrder is returned when a snapshot does not advance the index.
var ErrOutOfOrder = errors.New("snapshot index not increasing")

// Snapshot is one sampled frame with a detected pose.
type Snapshot struct {
	Index     int     // frame number in the source video
	Timestamp float64 // seconds, Index / frame rate
	Landmarks map[string]pose.Keypoint
	ImagePath string
}

// Trajectory is the ordered set of snapshots for one video. Insertion order
// is temporal order and Index strictly increases.
type Trajectory struct {
	Video     string
	FrameRate float64
	Snapshots []Snapshot
}

// New returns an empty trajectory for the named video.
func New(video string, frameRate float64) *Trajectory {
	return &Trajectory{Video: video, FrameRate: frameRate}
}

// Len returns the number of snapshots.
func (t *Trajectory) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Snapshots)
}

// Append adds s after the last snapshot.
func (t *Trajectory) Append(s Snapshot) error {
	if n := len(t.Snapshots); n > 0 && s.Index <= t.Snapshots[n-1].Index {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, s.Index, t.Snapshots[n-1].Index)
	}
	t.Snapshots = append(t.Snapshots, s)
	return nil
}

// Prefix returns the first n snapshots. It panics if n is out of range;
// callers check n against Len first.
func (t *Trajectory) Prefix(n int) []Snapshot {
	return t.Snapshots[:n:n]
}
