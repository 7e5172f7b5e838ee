// Package loader reads a configured session from disk into the ephys model
// consumed by the compute engine.
//
// New(session) returns a Loader for the session's recording and sorting
// formats. Supported formats:
//   - binary recording: one raw file per segment, interleaved samples,
//     little endian int16 | int32 | float32 | float64, optional header;
//     samples stay on disk and are read per requested window
//   - neuroscope sorting: .res.N/.clu.N pairs, one shank per pair, shank N
//     recorded as the unit group, exclude_shanks skips pairs
//   - csv sorting: segment,sample_index,unit_id
//   - csv spike locations: segment,unit_id,sample_index,x,y,z
//
// Every Load call stats the input files and computes a fingerprint. When the
// fingerprint matches the previous call the previously loaded session is
// returned without re-reading the files.
package loader
