// Package selection holds the chosen pages of a session: their thumbnails,
// working order, confirmed export order and per-page edits.
package selection
