package pdfexport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/textutil"
)

const maxCollisionSuffix = 10000

// ResolveFilename returns a path in dir that does not collide with an
// existing entry: <stem>.pdf, then <stem>_1.pdf, <stem>_2.pdf, ...
// Names are compared exactly, so "Scan.pdf" does not block "scan.pdf".
func ResolveFilename(dir, stem string) (string, error) {
	stem = textutil.NormalizeStem(stem, DefaultStem)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("list destination: %w", err)
	}
	taken := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		taken[entry.Name()] = struct{}{}
	}
	name := stem + ".pdf"
	for i := 1; ; i++ {
		if _, ok := taken[name]; !ok {
			return filepath.Join(dir, name), nil
		}
		if i > maxCollisionSuffix {
			return "", scanerr.Wrap(scanerr.ErrExport, "export", "filename", "no free filename for stem "+stem, nil)
		}
		name = fmt.Sprintf("%s_%d.pdf", stem, i)
	}
}
