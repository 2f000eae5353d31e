// Package deps checks that external binaries are installed and on PATH.
package deps
