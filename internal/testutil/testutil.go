// Package testutil provides shared trajectory fixtures for tests.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/trajectory"
)

// Triangle returns sample i of a triangle wave with the given integer
// period, peaking at period/2.
func Triangle(i, period int) float64 {
	return math.Abs(float64(i%period) - float64(period)/2)
}

// StillPose returns every landmark of set at the image centre.
func StillPose(set pose.LandmarkSet) map[string]pose.Keypoint {
	lm := make(map[string]pose.Keypoint, len(set))
	for _, name := range set.Names() {
		lm[name] = pose.Keypoint{X: 0.5, Y: 0.5}
	}
	return lm
}

// Moving builds a trajectory of n consecutive frames at fps in which every
// landmark of set is still except name, whose axis coordinate follows f.
func Moving(t testing.TB, video string, fps float64, n int, set pose.LandmarkSet, name string, axis int, f func(i int) float64) *trajectory.Trajectory {
	t.Helper()
	traj := trajectory.New(video, fps)
	for i := 0; i < n; i++ {
		lm := StillPose(set)
		kp := lm[name]
		switch axis {
		case 0:
			kp.X = f(i)
		case 1:
			kp.Y = f(i)
		default:
			kp.Z = f(i)
		}
		lm[name] = kp
		if err := traj.Append(trajectory.Snapshot{Index: i, Timestamp: float64(i) / fps, Landmarks: lm}); err != nil {
			t.Fatalf("append frame %d: %v", i, err)
		}
	}
	return traj
}
