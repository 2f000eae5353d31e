// Package textutil provides filename helpers: sanitizing user-supplied
// names, normalizing export stems, and deriving lowercase tokens for
// directory and log labels.
package textutil
