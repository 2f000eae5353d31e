// Package session runs one scan from source video to exported PDF.
//
// A Manager owns the workspace: it holds a file lock so only one process
// uses the workspace, keeps at most one live Session, and sweeps scope
// directories that belong to no live session at startup. Starting a new
// session discards the previous one first.
//
// A Session is a state machine
//
//	IDLE -> RECORDING|IMPORTING -> REVIEW_SOURCE -> TRIM
//	     -> AUTO_DETECT|MANUAL_PICK -> PAGE_REVIEW -> PROCESSING
//	     -> EXPORT_SETUP -> EXPORTED
//
// with DISCARDED reachable from every non-terminal state. Commands are
// serialized under one mutex. Detection, processing and export run as
// cancellable background tasks whose results are applied atomically. Every
// change publishes an immutable Snapshot that readers load without
// locking or receive through Subscribe.
//
// Each session owns a scope directory under the workspace holding the
// source video, page thumbnails and processed pages. Reaching EXPORTED or
// DISCARDED closes the frame sampler, drops every thumbnail and deletes
// the scope.
package session
