// Command videos2pdf turns a video of flipped document pages into a PDF.
//
// The scan command runs a whole session: import, trim, page selection by
// the detector or at fixed offsets, processing and export. Other commands
// inspect the candidate pages (detect), the workspace (scopes, sweep), the
// export history (history), the environment (preflight) and the
// configuration (config).
package main
