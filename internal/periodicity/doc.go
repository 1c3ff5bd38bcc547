// Package periodicity estimates the fundamental period of a pose trajectory.
//
// Every (landmark, axis) pair becomes a scalar channel. Each channel is
// mean-detrended and autocorrelated over lags [0, MaxLag); lag 0 is zeroed
// and the channel's score is its highest remaining peak. The channel with the
// strictly greatest score wins (earlier channels win ties) and the lag of its
// peak is the period in samples.
//
// Scores are raw peak amplitudes, not correlation coefficients, so channels
// that move more are preferred. There is no confidence threshold; the score
// is reported for the operator to judge.
package periodicity
