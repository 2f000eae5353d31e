// Package detect turns a trimmed video range into candidate pages.
//
// Frames are sampled at round(10 + 20*density) evenly spaced timestamps and
// scored with a cheap sharpness proxy (subsampled luminance variance). Blurry
// frames are excluded as BLUR or MOTION_BLUR; sharp frames are compared with
// the most recently accepted page on an 8x8 grid and excluded as DUPLICATE
// when the similarity reaches the threshold. A pass produces one Result or
// nothing at all.
package detect
