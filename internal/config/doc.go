// Package config loads, normalizes, and validates videos2pdf configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts) and reads TOML files. The Config type centralizes every knob the
// scanning pipeline and CLI need: the session workspace, the default export
// directory, the ffmpeg tooling, and the detection thresholds, which are
// empirical heuristics exposed here rather than hard-coded.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
