// Package pdfexport assembles the confirmed, edited page set into one PDF.
//
// Pages are rendered one at a time: rotate, fit to the page canvas at the
// preset's resolution, desaturate when requested, then embed as JPEG at the
// preset's quality. The document is written beside the destination as a
// .part file, its page count checked with an independent parser, and renamed
// to a collision-free name. Identical inputs and timestamps give identical
// bytes.
package pdfexport
