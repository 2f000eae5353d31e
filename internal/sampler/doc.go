// Package sampler decodes frames from a video source at arbitrary timestamps.
//
// A Handle funnels every request for one video through a single worker
// goroutine; the Decoder behind it (ffmpeg by default) is never invoked
// concurrently for the same handle. Decode failures surface as *DecodeError,
// which matches scanerr.ErrDecode.
package sampler
