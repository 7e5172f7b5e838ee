// Package compute derives per-unit quality metrics from a recording and its
// spike sorting.
//
// noise.go estimates the per-channel noise floor from random chunks of the
// recording (median absolute deviation scaled to a standard deviation).
//
// waveforms.go cuts spike-aligned snippets around each unit's spikes and
// averages them into templates; template_tools.go reads amplitudes, best
// channels and peak shifts off those templates.
//
// snr.go computes the signal-to-noise ratio: the template amplitude on the
// unit's best channel divided by the noise level of that same channel.
// spiketrain.go, amplitude.go and drift.go hold the rest of the metric family.
//
// registry.go maps metric names to implementations with default parameters;
// score.go folds a unit's metrics into a 0–100 score and a label
// (good ≥85, mua 60–84, noise <60, unknown).
//
// engine.go provides the stateful Engine that caches noise levels and
// waveforms per session fingerprint. Engine.Process accepts an injectable
// time.Time so tests are deterministic.
package compute
