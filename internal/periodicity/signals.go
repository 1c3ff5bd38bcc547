package periodicity

import (
	"fmt"

	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/trajectory"
)

// Channel identifies one scalar projection of a trajectory.
type Channel struct {
	Landmark string
	Axis     int // 0 = x, 1 = y, 2 = z
}

func (c Channel) String() string {
	return fmt.Sprintf("%s.%c", c.Landmark, "xyz"[c.Axis])
}

// Series is one channel's values, one per snapshot.
type Series struct {
	Channel
	Values []float64
}

// Channels projects traj onto one series per (landmark, axis), landmark
// major and axis minor. A landmark missing from a snapshot reads as zero.
func Channels(traj *trajectory.Trajectory, landmarks pose.LandmarkSet) []Series {
	n := traj.Len()
	out := make([]Series, 0, len(landmarks)*pose.Axes)
	for _, l := range landmarks {
		for axis := 0; axis < pose.Axes; axis++ {
			values := make([]float64, n)
			for i := 0; i < n; i++ {
				values[i] = traj.Snapshots[i].Landmarks[l.Name].Axis(axis)
			}
			out = append(out, Series{Channel: Channel{Landmark: l.Name, Axis: axis}, Values: values})
		}
	}
	return out
}
