// Package pose describes body keypoints and the detector that produces them.
//
// The landmark table is configuration: a LandmarkSet maps the names the rest
// of the pipeline tracks onto indices in a pose model's output, so a
// different model only needs a different table.
package pose

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrNoPose is returned by a Detector when a frame contains no person. It is
// expected and non-fatal: the frame is simply not sampled.
var ErrNoPose = errors.New("no pose detected")

// Keypoint is one landmark position: normalized image-plane x and y plus the
// model's depth-like z.
type Keypoint struct {
	X, Y, Z float64
}

// Axis returns the coordinate for axis 0 (x), 1 (y) or 2 (z).
func (k Keypoint) Axis(axis int) float64 {
	switch axis {
	case 0:
		return k.X
	case 1:
		return k.Y
	case 2:
		return k.Z
	}
	panic(fmt.Sprintf("pose: axis %d out of range", axis))
}

// Array returns the keypoint as [x, y, z].
func (k Keypoint) Array() [3]float64 {
	return [3]float64{k.X, k.Y, k.Z}
}

// Axes is the number of coordinates per keypoint.
const Axes = 3

// Landmark names one tracked point and its index in the model output.
type Landmark struct {
	Name  string
	Index int
}

// LandmarkSet is an ordered table of tracked landmarks. Order matters: it is
// the order channels are scored in, and ties go to the earlier channel.
type LandmarkSet []Landmark

// BlazePose13 tracks the 13 body points used for cycle extraction, indexed
// into the 33-point MediaPipe BlazePose topology.
var BlazePose13 = LandmarkSet{
	{"nose", 0},
	{"left_shoulder", 11},
	{"right_shoulder", 12},
	{"left_elbow", 13},
	{"right_elbow", 14},
	{"left_wrist", 15},
	{"right_wrist", 16},
	{"left_hip", 23},
	{"right_hip", 24},
	{"left_knee", 25},
	{"right_knee", 26},
	{"left_ankle", 27},
	{"right_ankle", 28},
}

// Names returns the landmark names in table order.
func (s LandmarkSet) Names() []string {
	names := make([]string, len(s))
	for i, l := range s {
		names[i] = l.Name
	}
	return names
}

// Validate rejects duplicate names and negative indices.
func (s LandmarkSet) Validate() error {
	if len(s) == 0 {
		return errors.New("landmark set is empty")
	}
	seen := make(map[string]bool, len(s))
	for _, l := range s {
		if l.Name == "" {
			return errors.New("landmark name is empty")
		}
		if l.Index < 0 {
			return fmt.Errorf("landmark %q has negative index %d", l.Name, l.Index)
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate landmark %q", l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

// Select picks the tracked landmarks out of a full model output. It fails
// if the output is shorter than the highest tracked index.
func (s LandmarkSet) Select(points []Keypoint) (map[string]Keypoint, error) {
	out := make(map[string]Keypoint, len(s))
	for _, l := range s {
		if l.Index >= len(points) {
			return nil, fmt.Errorf("model returned %d landmarks, %q needs index %d", len(points), l.Name, l.Index)
		}
		out[l.Name] = points[l.Index]
	}
	return out, nil
}

// Detector finds a single person's landmarks in a decoded RGB frame. It
// returns the model's full landmark list, or ErrNoPose.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Keypoint, error)
}
