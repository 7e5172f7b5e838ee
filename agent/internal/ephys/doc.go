// Package ephys is the in-memory data model for extracellular recordings and
// their spike sorting output.
//
//   - Recording: sampling frequency, channel ids, per-channel gain/offset and
//     one or more segments of raw traces (samples × channels, *mat.Dense)
//   - Sorting: ordered unit ids and, per segment, sorted spike frame indices
//   - Templates: one representative waveform per unit (samples × channels)
//     aligned so the spike peak sits at NBefore
//   - SpikeLocations: optional per-spike positions used by drift metrics
//   - PeakSign / PeakMode: how amplitudes are read off a waveform
//
// Segments are independent, non-contiguous blocks of acquisition. Frame
// indices in a Sorting are relative to the start of their segment.
package ephys
