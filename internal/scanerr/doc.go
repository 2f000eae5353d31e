// Package scanerr defines the error taxonomy of the scanning pipeline.
//
// Errors are tagged with one sentinel marker via Wrap and classified with
// errors.Is. Decode failures are absorbed by detection and surfaced as
// retryable for manual capture; export and low-storage failures leave the
// session in a known-good state; session invariant violations indicate a
// broken caller contract.
package scanerr
