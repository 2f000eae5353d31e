// Package preflight provides readiness checks for the filesystem paths,
// free space and external binaries videos2pdf depends on.
//
// These checks run in two contexts:
//   - The session manager calls CheckFreeSpace before a recording or import
//     starts, and the PDF assembler calls it before writing. The scan and
//     detect commands call CheckTools before opening a video.
//   - The CLI "preflight" command prints RunAll as a table.
//
// A free-space shortfall is reported as scanerr.ErrLowStorage and is never
// retried automatically.
package preflight
