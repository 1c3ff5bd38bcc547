package periodicity

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/cycle.report/internal/pose"
	"github.com/banshee-data/cycle.report/internal/trajectory"
)

func sine(period, n int, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*float64(i)/float64(period))
	}
	return out
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func series(name string, axis int, values []float64) Series {
	return Series{Channel: Channel{Landmark: name, Axis: axis}, Values: values}
}

func TestDetrendConstantIsExactZero(t *testing.T) {
	for _, v := range []float64{0, 0.3, -7.125, 1e9} {
		d := Detrend(constant(v, 50))
		assert.Equal(t, constant(0, 50), d, "value %v", v)
	}
	assert.Empty(t, Detrend(nil))
}

func TestDetrendRemovesMean(t *testing.T) {
	d := Detrend([]float64{1, 2, 3, 6})
	assert.InDeltaSlice(t, []float64{-2, -1, 0, 3}, d, 1e-12)
	assert.InDelta(t, 0, floats.Sum(d), 1e-12)
}

func TestConstantChannelNeverBeatsMovingChannel(t *testing.T) {
	est := NewEstimator(DefaultMaxLag)

	flat := est.Autocorrelate(constant(0.42, 60))
	require.NotNil(t, flat)
	assert.Equal(t, 0.0, floats.Max(flat))

	got, err := est.Estimate([]Series{
		series("hip", 0, constant(0.42, 60)),
		series("hip", 1, sine(10, 60, 0.01)),
	})
	require.NoError(t, err)
	assert.Equal(t, Channel{Landmark: "hip", Axis: 1}, got.Channel)
	assert.Equal(t, 10, got.Lag)
}

func TestZeroLagIsEnergyAndExcluded(t *testing.T) {
	values := []float64{0.1, 0.9, 0.4, 0.3, 0.8, 0.2, 0.7, 0.5, 0.05, 0.6}
	d := Detrend(values)

	raw := RawAutocorrelation(d, DefaultMaxLag)
	require.Len(t, raw, len(values))
	assert.InDelta(t, floats.Dot(d, d), raw[0], 1e-12)
	assert.Equal(t, 0, floats.MaxIdx(raw), "lag 0 is the global maximum")

	ac := NewEstimator(DefaultMaxLag).Autocorrelate(values)
	assert.Equal(t, 0.0, ac[0])
	assert.InDeltaSlice(t, raw[1:], ac[1:], 1e-12)

	got, err := NewEstimator(DefaultMaxLag).Estimate([]Series{series("nose", 0, values)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Lag, 1)
	assert.Less(t, got.Score, raw[0])
}

func TestRecoversSinusoidPeriod(t *testing.T) {
	tests := []struct {
		period, n int
	}{
		{5, 15},
		{6, 18},
		{8, 64},
		{10, 60},
		{10, 100},
		{12, 120},
	}
	for _, tt := range tests {
		got, err := NewEstimator(DefaultMaxLag).Estimate([]Series{series("wrist", 1, sine(tt.period, tt.n, 0.2))})
		require.NoError(t, err)
		assert.Equal(t, tt.period, got.Lag, "period %d over %d samples", tt.period, tt.n)

		l, err := got.CycleLength(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.period, l)
	}
}

func TestShortSmoothWindowFavoursLagOne(t *testing.T) {
	// With only three periods of a slow sinusoid the unnormalized lag-1
	// product outweighs the periodic peak, which the cycle check rejects.
	got, err := NewEstimator(DefaultMaxLag).Estimate([]Series{series("knee", 1, sine(10, 30, 1))})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Lag)

	_, err = got.CycleLength(30)
	assert.ErrorIs(t, err, ErrPeriodDetectionFailed)
}

func TestHorizonBoundary(t *testing.T) {
	const maxLag = 20
	est := NewEstimator(maxLag)

	below, err := est.Estimate([]Series{series("ankle", 0, sine(maxLag-1, 760, 1))})
	require.NoError(t, err)
	assert.Equal(t, maxLag-1, below.Lag)
	assert.Len(t, below.Autocorrelation, maxLag)

	for _, period := range []int{maxLag, maxLag + 1, maxLag + 5} {
		got, err := est.Estimate([]Series{series("ankle", 0, sine(period, 760, 1))})
		require.NoError(t, err)
		assert.NotEqual(t, period, got.Lag)
		assert.Less(t, got.Lag, maxLag)
		assert.Equal(t, 1, got.Lag, "period %d", period)

		_, err = got.CycleLength(760)
		assert.ErrorIs(t, err, ErrPeriodDetectionFailed)
	}
}

func TestTieGoesToFirstChannel(t *testing.T) {
	wave := sine(10, 100, 0.3)
	got, err := NewEstimator(DefaultMaxLag).Estimate([]Series{
		series("left_knee", 2, append([]float64(nil), wave...)),
		series("right_knee", 0, append([]float64(nil), wave...)),
	})
	require.NoError(t, err)
	assert.Equal(t, Channel{Landmark: "left_knee", Axis: 2}, got.Channel)
}

func TestMoreEnergeticChannelWins(t *testing.T) {
	got, err := NewEstimator(DefaultMaxLag).Estimate([]Series{
		series("nose", 0, sine(10, 100, 0.1)),
		series("wrist", 0, sine(10, 100, 0.5)),
	})
	require.NoError(t, err)
	assert.Equal(t, "wrist", got.Channel.Landmark)
}

func TestDegenerateInputs(t *testing.T) {
	est := NewEstimator(DefaultMaxLag)

	_, err := est.Estimate(nil)
	assert.ErrorIs(t, err, ErrNoEstimate)

	_, err = est.Estimate([]Series{series("nose", 0, nil), series("nose", 1, []float64{0.5})})
	assert.ErrorIs(t, err, ErrNoEstimate)

	_, err = est.Estimate([]Series{series("nose", 0, []float64{1, math.NaN(), 2})})
	assert.ErrorIs(t, err, ErrNoEstimate)

	// Two samples give a single negative lag-1 product.
	got, err := est.Estimate([]Series{series("nose", 0, []float64{0, 1})})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Lag)
	assert.InDelta(t, -0.25, got.Score, 1e-12)
	_, err = got.CycleLength(2)
	assert.ErrorIs(t, err, ErrPeriodDetectionFailed)

	// All channels flat: an estimate exists but no cycle can be cut.
	got, err = est.Estimate([]Series{series("nose", 0, constant(1, 40)), series("hip", 1, constant(2, 40))})
	require.NoError(t, err)
	assert.Equal(t, "nose", got.Channel.Landmark)
	_, err = got.CycleLength(40)
	assert.ErrorIs(t, err, ErrPeriodDetectionFailed)
}

func TestCycleLength(t *testing.T) {
	e := &Estimate{Channel: Channel{"nose", 0}, Lag: 10, Score: 3}
	l, err := e.CycleLength(10)
	require.NoError(t, err)
	assert.Equal(t, 10, l)

	_, err = e.CycleLength(9)
	assert.ErrorIs(t, err, ErrPeriodDetectionFailed)

	_, err = (&Estimate{Lag: 0, Score: 1}).CycleLength(50)
	assert.ErrorIs(t, err, ErrPeriodDetectionFailed)

	_, err = (&Estimate{Lag: 7, Score: 0}).CycleLength(50)
	assert.ErrorIs(t, err, ErrPeriodDetectionFailed)
}

func TestZeroValueEstimatorUsesDefaultHorizon(t *testing.T) {
	var est Estimator
	ac := est.Autocorrelate(sine(10, 300, 1))
	assert.Len(t, ac, DefaultMaxLag)
	assert.Equal(t, DefaultMaxLag, NewEstimator(0).MaxLag)
}

// triangle follows a period-10 triangle wave: 5 4 3 2 1 0 1 2 3 4.
func triangle(i int) float64 {
	return math.Abs(float64(i%10) - 5)
}

func syntheticTrajectory(n int, fps float64) *trajectory.Trajectory {
	traj := trajectory.New("synthetic", fps)
	for i := 0; i < n; i++ {
		idx := i * 5
		traj.Snapshots = append(traj.Snapshots, trajectory.Snapshot{
			Index:     idx,
			Timestamp: float64(idx) / fps,
			Landmarks: map[string]pose.Keypoint{
				"nose":       {X: 0.5, Y: 0.2, Z: -0.3},
				"left_wrist": {X: 0.1 * triangle(i), Y: 0.6, Z: 0.1},
			},
		})
	}
	return traj
}

func TestChannelsShape(t *testing.T) {
	set := pose.LandmarkSet{{Name: "nose", Index: 0}, {Name: "left_wrist", Index: 15}}
	chans := Channels(syntheticTrajectory(12, 30), set)

	require.Len(t, chans, 6)
	var ids []string
	for _, c := range chans {
		ids = append(ids, c.Channel.String())
		assert.Len(t, c.Values, 12)
	}
	if diff := cmp.Diff([]string{"nose.x", "nose.y", "nose.z", "left_wrist.x", "left_wrist.y", "left_wrist.z"}, ids); diff != "" {
		t.Errorf("channel order mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.5, chans[3].Values[0], 1e-12)
	assert.InDelta(t, 0.4, chans[3].Values[1], 1e-12)

	empty := Channels(trajectory.New("none", 30), set)
	require.Len(t, empty, 6)
	assert.Empty(t, empty[0].Values)
}

func TestTriangleWaveEndToEnd(t *testing.T) {
	traj := syntheticTrajectory(60, 30)
	chans := Channels(traj, pose.BlazePose13)
	require.Len(t, chans, 39)

	got, err := NewEstimator(DefaultMaxLag).Estimate(chans)
	require.NoError(t, err)
	assert.Equal(t, Channel{Landmark: "left_wrist", Axis: 0}, got.Channel)
	assert.Equal(t, 10, got.Lag)
	assert.Greater(t, got.Score, 0.0)
	assert.Len(t, got.Autocorrelation, 60)

	l, err := got.CycleLength(traj.Len())
	require.NoError(t, err)
	assert.Equal(t, 10, l)
}
