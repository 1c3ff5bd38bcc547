package trajectory

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/banshee-data/cycle.report/internal/monitoring"
	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/video"
)

// DefaultStride samples every fifth frame.
const DefaultStride = 5

var (
	// ErrInvalidStride is returned for a stride below 1.
	ErrInvalidStride = errors.New("frame stride must be at least 1")
	// ErrInvalidFrameRate is returned when the source reports no usable rate.
	ErrInvalidFrameRate = errors.New("frame rate must be positive")
)

// FrameSource yields decoded frames in order until io.EOF.
type FrameSource interface {
	FrameRate() float64
	Next() (video.Frame, error)
}

// ImageSink persists the still for an accepted snapshot and returns where
// it was written.
type ImageSink interface {
	Save(videoName string, index int, img image.Image) (string, error)
}

// Builder turns a frame source into a Trajectory.
type Builder struct {
	Stride    int
	Detector  pose.Detector
	Landmarks pose.LandmarkSet
	Sink      ImageSink
}

// FrameSkipper is implemented by sources that can discard a frame without
// building its image. Build uses it for the frames between samples.
type FrameSkipper interface {
	Skip() error
}

// Build samples every Stride-th frame of src. Frames without a pose are
// dropped; an empty Trajectory is a valid result. Detector, sink and
// decode errors abort the video.
func (b *Builder) Build(ctx context.Context, name string, src FrameSource) (*Trajectory, error) {
	if b.Stride < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidStride, b.Stride)
	}
	fps := src.FrameRate()
	if !(fps > 0) {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidFrameRate, fps)
	}
	skipper, _ := src.(FrameSkipper)

	traj := New(name, fps)
	var sampled int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if frame.Index%b.Stride != 0 {
			continue
		}
		sampled++

		if err := b.sample(ctx, traj, frame); err != nil {
			return nil, err
		}

		if skipper != nil {
			done, err := skipFrames(skipper, b.Stride-1)
			if err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			if done {
				break
			}
		}
	}

	monitoring.ForVideo(name)("sampled %d frames, %d with a pose", sampled, traj.Len())
	return traj, nil
}

// sample detects a pose in frame and appends it to traj. A frame without a
// pose is not an error.
func (b *Builder) sample(ctx context.Context, traj *Trajectory, frame video.Frame) error {
	points, err := b.Detector.Detect(ctx, frame.Image)
	if errors.Is(err, pose.ErrNoPose) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect frame %d: %w", frame.Index, err)
	}

	landmarks, err := b.Landmarks.Select(points)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Index, err)
	}

	path, err := b.Sink.Save(traj.Video, frame.Index, frame.Image)
	if err != nil {
		return fmt.Errorf("save frame %d: %w", frame.Index, err)
	}

	return traj.Append(Snapshot{
		Index:     frame.Index,
		Timestamp: float64(frame.Index) / traj.FrameRate,
		Landmarks: landmarks,
		ImagePath: path,
	})
}

// skipFrames discards n frames. done reports that the source ran out.
func skipFrames(s FrameSkipper, n int) (done bool, err error) {
	for i := 0; i < n; i++ {
		if err := s.Skip(); err != nil {
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			return false, err
		}
	}
	return false, nil
}
