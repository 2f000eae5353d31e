// Package store persists session bookkeeping and the export history in
// SQLite.
//
// Session rows record the state, source, trim range and persisted page order
// of each session so the startup sweep knows which scopes were left behind.
// The exports table is the history of completed PDFs; the pipeline only
// appends to it.
//
// Schema changes bump the version in schema.go; users delete the database to
// adopt the new schema.
package store
