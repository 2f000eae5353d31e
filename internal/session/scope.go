package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// scope is the private directory tree of one session:
//
//	<workspace>/<session id>/source     imported or recorded video
//	<workspace>/<session id>/pages      one thumbnail per live page
//	<workspace>/<session id>/processed  edited pages ready for export
type scope struct {
	root      string
	source    string
	pages     string
	processed string
}

func newScope(workspace, id string) (scope, error) {
	root := filepath.Join(workspace, id)
	sc := scope{
		root:      root,
		source:    filepath.Join(root, "source"),
		pages:     filepath.Join(root, "pages"),
		processed: filepath.Join(root, "processed"),
	}
	for _, dir := range []string{sc.source, sc.pages, sc.processed} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return scope{}, fmt.Errorf("create scope dir %s: %w", dir, err)
		}
	}
	return sc, nil
}

// recordingPath is where the capture subsystem writes a new recording.
func (sc scope) recordingPath() string {
	return filepath.Join(sc.source, "recording.mp4")
}

func (sc scope) processedPath(pageID string) string {
	return filepath.Join(sc.processed, pageID+".jpg")
}

func (sc scope) clearProcessed() error {
	entries, err := os.ReadDir(sc.processed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var firstErr error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(sc.processed, entry.Name())); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
