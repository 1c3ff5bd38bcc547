package periodicity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultMaxLag bounds the lag search, in samples.
const DefaultMaxLag = 200

var (
	// ErrNoEstimate means no channel could be scored, e.g. fewer than two
	// snapshots.
	ErrNoEstimate = errors.New("no period estimate")
	// ErrPeriodDetectionFailed means a channel won but its period cannot be
	// used to cut a cycle.
	ErrPeriodDetectionFailed = errors.New("period detection failed")
)

// Estimate is the winning channel and its period.
type Estimate struct {
	Channel Channel
	Lag     int     // period in samples, argmax over lags >= 1
	Score   float64 // autocorrelation at Lag
	// Autocorrelation of the winning channel for lags [0, min(MaxLag, T)),
	// with lag 0 zeroed.
	Autocorrelation []float64
}

// CycleLength validates the estimate against a trajectory of n snapshots
// and returns the number of snapshots in one cycle.
func (e *Estimate) CycleLength(n int) (int, error) {
	switch {
	case e.Lag <= 1:
		return 0, fmt.Errorf("%w: lag %d on %s", ErrPeriodDetectionFailed, e.Lag, e.Channel)
	case !(e.Score > 0):
		return 0, fmt.Errorf("%w: no positive autocorrelation peak on %s", ErrPeriodDetectionFailed, e.Channel)
	case n < e.Lag:
		return 0, fmt.Errorf("%w: lag %d exceeds %d snapshots", ErrPeriodDetectionFailed, e.Lag, n)
	}
	return e.Lag, nil
}

// Estimator scores channels by autocorrelation peak.
type Estimator struct {
	MaxLag int
}

// NewEstimator returns an estimator with the given lag horizon, or
// DefaultMaxLag when maxLag < 2.
func NewEstimator(maxLag int) *Estimator {
	if maxLag < 2 {
		maxLag = DefaultMaxLag
	}
	return &Estimator{MaxLag: maxLag}
}

// Estimate picks the best channel among series. It returns ErrNoEstimate
// if no series has at least two samples and a finite score.
func (e *Estimator) Estimate(series []Series) (*Estimate, error) {
	var best *Estimate
	for _, s := range series {
		ac := e.Autocorrelate(s.Values)
		if ac == nil {
			continue
		}
		lag := floats.MaxIdx(ac[1:]) + 1
		score := ac[lag]
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if best == nil || score > best.Score {
			best = &Estimate{Channel: s.Channel, Lag: lag, Score: score, Autocorrelation: ac}
		}
	}
	if best == nil {
		return nil, ErrNoEstimate
	}
	return best, nil
}

// Autocorrelate returns the mean-detrended linear autocorrelation of values
// for lags [0, min(MaxLag, len(values))) with lag 0 zeroed. It returns nil
// for fewer than two values.
func (e *Estimator) Autocorrelate(values []float64) []float64 {
	maxLag := e.MaxLag
	if maxLag < 2 {
		maxLag = DefaultMaxLag
	}
	ac := RawAutocorrelation(Detrend(values), maxLag)
	if ac == nil {
		return nil
	}
	ac[0] = 0
	return ac
}

// Detrend returns values minus their mean. A constant series returns exact
// zeros so it can never outscore a channel that moves.
func Detrend(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || floats.Min(values) == floats.Max(values) {
		return out
	}
	copy(out, values)
	floats.AddConst(-stat.Mean(values, nil), out)
	return out
}

// RawAutocorrelation returns sum_i d[i]*d[i+k] for k in [0, min(maxLag,
// len(d))). It returns nil when that window holds no lag beyond 0.
func RawAutocorrelation(d []float64, maxLag int) []float64 {
	lags := min(maxLag, len(d))
	if lags < 2 {
		return nil
	}
	n := len(d)
	ac := make([]float64, lags)
	for k := range ac {
		ac[k] = floats.Dot(d[:n-k], d[k:])
	}
	return ac
}
