// Package pipeline runs the per-video chain from decoded frames to exported
// artifacts, and the batch loop over an input directory.
//
// A video is processed in four stages: sampling into a trajectory, channel
// extraction, period estimation, and export. Only the full artifact is
// unconditional; the standard cycle artifact and the diagnostics report are
// written when a usable period is found. A video that yields no snapshots
// produces no artifacts at all.
package pipeline
