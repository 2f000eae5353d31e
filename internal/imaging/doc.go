// Package imaging provides the opaque image buffer the detector and the PDF
// assembler operate on.
//
// Buffer hides the concrete pixel representation behind decode, encode,
// scale, rotate, desaturate, crop and downsample operations so the codec can
// change without touching callers. Rotation is clockwise.
package imaging
