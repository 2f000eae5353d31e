// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual stream properties (codec, dimensions, duration)
//   - Format: container-level metadata (duration, size)
//
// Inspect executes ffprobe and returns the parsed Result; DurationMillis
// yields the source duration the session state machine trims against.
package ffprobe
