package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"videos2pdf/internal/logging"
)

const (
	liveID   = "5d0f6a2e-8c1b-4f3a-9e7d-2b4c6a8e0f13"
	orphanID = "a3c9e1f7-4b2d-4e6f-8a0c-1d3e5f7a9b24"
	stuckID  = "1b2c3d4e-5f60-4718-8293-a4b5c6d7e8f9"
	otherID  = "e8f9a0b1-c2d3-4e4f-9051-6273849a5b6c"
)

func makeScope(t *testing.T, root, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return dir
}

func TestSweepInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := Sweep(context.Background(), dir, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestSweepKeepsLiveScopes(t *testing.T) {
	root := t.TempDir()
	live := makeScope(t, root, liveID, "pages/a.jpg", "source/video.mp4")
	orphan := makeScope(t, root, orphanID, "pages/b.jpg", "processed/b.jpg")

	result := Sweep(context.Background(), root, map[string]struct{}{liveID: {}}, logging.NewNop())
	if !result.OK() {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Removed) != 1 || len(result.Kept) != 1 {
		t.Fatalf("removed=%v kept=%v", result.Removed, result.Kept)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan scope survived")
	}
	if _, err := os.Stat(filepath.Join(live, "pages", "a.jpg")); err != nil {
		t.Fatalf("live scope touched: %v", err)
	}
}

func TestSweepOnlyTouchesScopeDirectories(t *testing.T) {
	root := t.TempDir()
	orphan := makeScope(t, root, orphanID, "pages/b.jpg")
	foreign := makeScope(t, root, "lecture-notes", "notes.txt")
	upper := makeScope(t, root, strings.ToUpper(otherID), "pages/c.jpg")
	pdf := filepath.Join(root, "scan.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.3"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	fileNamedLikeScope := filepath.Join(root, stuckID)
	if err := os.WriteFile(fileNamedLikeScope, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result := Sweep(context.Background(), root, nil, logging.NewNop())
	if !result.OK() || len(result.Removed) != 1 || result.Removed[0] != orphan {
		t.Fatalf("result = %+v", result)
	}
	for _, path := range []string{filepath.Join(foreign, "notes.txt"), filepath.Join(upper, "pages", "c.jpg"), pdf, fileNamedLikeScope} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s removed by sweep: %v", path, err)
		}
	}
}

func TestScopeName(t *testing.T) {
	cases := map[string]bool{
		liveID:                              true,
		strings.ToUpper(liveID):             false,
		"{" + liveID + "}":                  false,
		"urn:uuid:" + liveID:                false,
		strings.ReplaceAll(liveID, "-", ""): false,
		"scan.pdf":                          false,
		"":                                  false,
	}
	for name, want := range cases {
		if got := ScopeName(name); got != want {
			t.Errorf("ScopeName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := t.TempDir()
	stuck := makeScope(t, root, stuckID, "locked/file.jpg", "free.jpg")
	other := makeScope(t, root, otherID, "pages/x.jpg")
	locked := filepath.Join(stuck, "locked")
	if err := os.Chmod(locked, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	result := Sweep(context.Background(), root, nil, logging.NewNop())
	if result.OK() {
		t.Fatalf("expected a recorded failure")
	}
	if _, err := os.Stat(filepath.Join(stuck, "free.jpg")); !os.IsNotExist(err) {
		t.Fatalf("removable sibling survived")
	}
	if _, err := os.Stat(other); !os.IsNotExist(err) {
		t.Fatalf("later scope not swept")
	}
}

func TestRemoveScopeLeavesNothing(t *testing.T) {
	root := t.TempDir()
	dir := makeScope(t, root, liveID, "pages/1.jpg", "pages/2.jpg", "source/in.mp4")

	result := RemoveScope(context.Background(), dir, logging.NewNop())
	if !result.OK() || len(result.Removed) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("scope survived")
	}
	again := RemoveScope(context.Background(), dir, logging.NewNop())
	if !again.OK() {
		t.Fatalf("second removal errored: %v", again.Errors)
	}
}

func TestListDirectories(t *testing.T) {
	root := t.TempDir()
	makeScope(t, root, liveID, "a.jpg", "b/c.jpg")
	makeScope(t, root, "not-a-scope", "x.jpg")

	dirs, err := ListDirectories(root)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 || dirs[0].Files != 2 || dirs[0].Size != 8 {
		t.Fatalf("dirs = %+v", dirs)
	}
	missing, err := ListDirectories(filepath.Join(root, "nope"))
	if err != nil || missing != nil {
		t.Fatalf("missing root = %v, %v", missing, err)
	}
}
