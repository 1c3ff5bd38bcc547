package trajectory

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cycle.report/internal/fsutil"
	"github.com/banshee-data/cycle.report/internal/monitoring"
	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/video"
)

// sliceSource yields n blank frames at the given rate.
type sliceSource struct {
	fps  float64
	n    int
	next int
	err  error // returned instead of frame errAt
	errAt int
}

func (s *sliceSource) FrameRate() float64 { return s.fps }

func (s *sliceSource) Next() (video.Frame, error) {
	if s.err != nil && s.next == s.errAt {
		return video.Frame{}, s.err
	}
	if s.next >= s.n {
		return video.Frame{}, io.EOF
	}
	f := video.Frame{Index: s.next, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	s.next++
	return f, nil
}

// skippingSource is a sliceSource that can discard frames without building
// an image, counting how many frames of each kind it produced.
type skippingSource struct {
	sliceSource
	decoded, skipped int
	skipErr          error
}

func (s *skippingSource) Next() (video.Frame, error) {
	f, err := s.sliceSource.Next()
	if err == nil {
		s.decoded++
	}
	return f, err
}

func (s *skippingSource) Skip() error {
	if s.skipErr != nil {
		return s.skipErr
	}
	if s.next >= s.n {
		return io.EOF
	}
	s.next++
	s.skipped++
	return nil
}

// scriptedDetector reports a pose whose nose x equals the call count, and no
// pose for the listed call numbers.
type scriptedDetector struct {
	calls  int
	missed map[int]bool
	err    error
}

func (d *scriptedDetector) Detect(ctx context.Context, frame image.Image) ([]pose.Keypoint, error) {
	call := d.calls
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if d.missed[call] {
		return nil, pose.ErrNoPose
	}
	return []pose.Keypoint{{X: float64(call), Y: 0.5, Z: -0.1}}, nil
}

var noseOnly = pose.LandmarkSet{{Name: "nose", Index: 0}}

func newBuilder(det pose.Detector, fs fsutil.FileSystem) *Builder {
	return &Builder{
		Stride:    5,
		Detector:  det,
		Landmarks: noseOnly,
		Sink:      &JPEGSink{FS: fs, Dir: "frames", Quality: 80},
	}
}

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestBuildSamplesStrideAndDropsMisses(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	det := &scriptedDetector{missed: map[int]bool{1: true}}
	b := newBuilder(det, fs)

	traj, err := b.Build(context.Background(), "squat", &sliceSource{fps: 25, n: 23})
	require.NoError(t, err)

	// Frames 0, 5, 10, 15, 20 are sampled; the second detection misses.
	assert.Equal(t, 5, det.calls)
	require.Equal(t, 4, traj.Len())
	assert.Equal(t, "squat", traj.Video)
	assert.Equal(t, 25.0, traj.FrameRate)

	wantIdx := []int{0, 10, 15, 20}
	for i, s := range traj.Snapshots {
		assert.Equal(t, wantIdx[i], s.Index)
		assert.InDelta(t, float64(wantIdx[i])/25, s.Timestamp, 1e-12)
		assert.Equal(t, FramePath("frames", "squat", wantIdx[i]), s.ImagePath)
		assert.Contains(t, s.Landmarks, "nose")
	}
	assert.Equal(t, "frames/squat_frame_0010.jpg", traj.Snapshots[1].ImagePath)

	assert.Equal(t, []string{
		"frames/squat_frame_0000.jpg",
		"frames/squat_frame_0010.jpg",
		"frames/squat_frame_0015.jpg",
		"frames/squat_frame_0020.jpg",
	}, fs.Files("frames/"))

	data, err := fs.ReadFile("frames/squat_frame_0015.jpg")
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestBuildEmptyIsNotAnError(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	det := &scriptedDetector{missed: map[int]bool{0: true, 1: true}}

	traj, err := newBuilder(det, fs).Build(context.Background(), "empty", &sliceSource{fps: 30, n: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, traj.Len())
	assert.Empty(t, fs.Files("frames/"))
}

func TestBuildErrors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	ctx := context.Background()

	b := newBuilder(&scriptedDetector{}, fs)
	b.Stride = 0
	_, err := b.Build(ctx, "v", &sliceSource{fps: 30, n: 10})
	assert.ErrorIs(t, err, ErrInvalidStride)

	_, err = newBuilder(&scriptedDetector{}, fs).Build(ctx, "v", &sliceSource{fps: 0, n: 10})
	assert.ErrorIs(t, err, ErrInvalidFrameRate)

	boom := errors.New("sidecar down")
	_, err = newBuilder(&scriptedDetector{err: boom}, fs).Build(ctx, "v", &sliceSource{fps: 30, n: 10})
	assert.ErrorIs(t, err, boom)

	_, err = newBuilder(&scriptedDetector{}, fs).Build(ctx, "v", &sliceSource{fps: 30, n: 10, err: io.ErrUnexpectedEOF, errAt: 3})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	b = newBuilder(&scriptedDetector{}, fs)
	b.Landmarks = pose.LandmarkSet{{Name: "ankle", Index: 27}}
	_, err = b.Build(ctx, "v", &sliceSource{fps: 30, n: 10})
	assert.Error(t, err)
}

func TestBuildHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBuilder(&scriptedDetector{}, fsutil.NewMemoryFileSystem()).Build(ctx, "v", &sliceSource{fps: 30, n: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	traj := New("v", 30)
	require.NoError(t, traj.Append(Snapshot{Index: 5}))
	assert.ErrorIs(t, traj.Append(Snapshot{Index: 5}), ErrOutOfOrder)
	assert.ErrorIs(t, traj.Append(Snapshot{Index: 0}), ErrOutOfOrder)
	require.NoError(t, traj.Append(Snapshot{Index: 10}))
	assert.Equal(t, 2, traj.Len())

	prefix := traj.Prefix(1)
	assert.Len(t, prefix, 1)
	assert.Equal(t, 1, cap(prefix))

	var nilTraj *Trajectory
	assert.Equal(t, 0, nilTraj.Len())
}

func TestBuildSkipsFramesBetweenSamples(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	det := &scriptedDetector{missed: map[int]bool{1: true}}
	src := &skippingSource{sliceSource: sliceSource{fps: 25, n: 23}}

	traj, err := newBuilder(det, fs).Build(context.Background(), "squat", src)
	require.NoError(t, err)

	assert.Equal(t, 5, src.decoded, "only sampled frames are decoded")
	assert.Equal(t, 18, src.skipped)
	assert.Equal(t, 5, det.calls)

	var idx []int
	for _, s := range traj.Snapshots {
		idx = append(idx, s.Index)
	}
	assert.Equal(t, []int{0, 10, 15, 20}, idx)
}

func TestBuildSkipError(t *testing.T) {
	boom := errors.New("pipe closed")
	src := &skippingSource{sliceSource: sliceSource{fps: 25, n: 23}, skipErr: boom}

	_, err := newBuilder(&scriptedDetector{}, fsutil.NewMemoryFileSystem()).Build(context.Background(), "squat", src)
	assert.ErrorIs(t, err, boom)
}
