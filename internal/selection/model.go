package selection

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"videos2pdf/internal/detect"
	"videos2pdf/internal/imaging"
	"videos2pdf/internal/logging"
	"videos2pdf/internal/scanerr"
)

// Source records how a page entered the model.
type Source string

const (
	SourceDetected Source = "detected"
	SourceManual   Source = "manual"
)

const thumbExt = ".jpg"

// Page is a candidate page. Values returned by the model are copies.
type Page struct {
	ID          string        `json:"id"`
	TimestampMS int64         `json:"timestamp_ms"`
	Quality     float64       `json:"quality"`
	Selected    bool          `json:"selected"`
	Reason      detect.Reason `json:"reason,omitempty"`
	Source      Source        `json:"source"`
	ThumbPath   string        `json:"thumb_path"`
	seq         int
}

// OrderHook receives the working page order after every change to it.
type OrderHook func(ids []string)

// Model holds the pages of one session, their order and their edits. Every
// page has exactly one thumbnail file in the model's directory and one
// in-memory buffer. A Model is not safe for concurrent use; the owning
// session serializes access.
type Model struct {
	dir       string
	logger    *slog.Logger
	pages     []Page
	images    map[string]*imaging.Buffer
	edits     map[string]Edit
	confirmed []string
	nextSeq   int
	onOrder   OrderHook
	released  bool
}

// New creates a model that stores thumbnails under dir.
func New(dir string, logger *slog.Logger) (*Model, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("selection: thumbnail directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}
	return &Model{
		dir:    dir,
		logger: logging.NewComponentLogger(logger, "selection"),
		images: make(map[string]*imaging.Buffer),
		edits:  make(map[string]Edit),
	}, nil
}

// Dir returns the thumbnail directory.
func (m *Model) Dir() string { return m.dir }

// SetOrderHook installs the persistence callback for the working order.
func (m *Model) SetOrderHook(hook OrderHook) { m.onOrder = hook }

// Len returns the number of live pages, selected or not.
func (m *Model) Len() int { return len(m.pages) }

// Pages returns the pages in working order.
func (m *Model) Pages() []Page {
	return append([]Page(nil), m.pages...)
}

// Page returns one page by id.
func (m *Model) Page(id string) (Page, bool) {
	idx := m.index(id)
	if idx < 0 {
		return Page{}, false
	}
	return m.pages[idx], true
}

// Selected returns the selected pages in working order.
func (m *Model) Selected() []Page {
	out := make([]Page, 0, len(m.pages))
	for _, p := range m.pages {
		if p.Selected {
			out = append(out, p)
		}
	}
	return out
}

// Add stores a new selected page. Manual captures and individually accepted
// detector frames both enter through here.
func (m *Model) Add(source Source, timestampMS int64, quality float64, img *imaging.Buffer) (Page, error) {
	if err := m.live("add"); err != nil {
		return Page{}, err
	}
	if img == nil {
		return Page{}, scanerr.Wrap(scanerr.ErrValidation, "selection", "add", "empty image", nil)
	}
	page, err := m.store(source, timestampMS, quality, img)
	if err != nil {
		return Page{}, err
	}
	page.Selected = true
	m.pages = append(m.pages, page)
	m.images[page.ID] = img
	m.notify()
	return page, nil
}

// ReplaceDetected swaps the whole candidate set for a detection result.
// Accepted frames start selected; excluded frames are kept unselected with
// their reason. The swap is all-or-nothing: if any thumbnail fails to write,
// the previous pages stay untouched.
func (m *Model) ReplaceDetected(res detect.Result) ([]Page, error) {
	if err := m.live("replace"); err != nil {
		return nil, err
	}
	type entry struct {
		candidate detect.Candidate
		selected  bool
	}
	entries := make([]entry, 0, len(res.Accepted)+len(res.Excluded))
	for _, c := range res.Accepted {
		entries = append(entries, entry{candidate: c, selected: true})
	}
	for _, c := range res.Excluded {
		entries = append(entries, entry{candidate: c})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].candidate.TimestampMS < entries[j].candidate.TimestampMS
	})

	fresh := make([]Page, 0, len(entries))
	images := make(map[string]*imaging.Buffer, len(entries))
	for _, e := range entries {
		page, err := m.store(SourceDetected, e.candidate.TimestampMS, e.candidate.Quality, e.candidate.Thumbnail)
		if err != nil {
			for _, p := range fresh {
				_ = os.Remove(p.ThumbPath)
			}
			return nil, err
		}
		page.Selected = e.selected
		page.Reason = e.candidate.Reason
		fresh = append(fresh, page)
		images[page.ID] = e.candidate.Thumbnail
	}

	m.dropAll()
	m.pages = fresh
	m.images = images
	m.notify()
	return m.Pages(), nil
}

// Remove deletes a page and its thumbnail.
func (m *Model) Remove(id string) error {
	if err := m.live("remove"); err != nil {
		return err
	}
	idx := m.index(id)
	if idx < 0 {
		return unknownPage("remove", id)
	}
	if err := os.Remove(m.pages[idx].ThumbPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove thumbnail: %w", err)
	}
	m.pages = append(m.pages[:idx], m.pages[idx+1:]...)
	delete(m.images, id)
	delete(m.edits, id)
	m.confirmed = without(m.confirmed, id)
	m.notify()
	return nil
}

// Move relocates the page at index from to index to, shifting the pages in
// between by one. The relative order of all other pages is preserved.
func (m *Model) Move(from, to int) error {
	if err := m.live("move"); err != nil {
		return err
	}
	n := len(m.pages)
	if from < 0 || from >= n || to < 0 || to >= n {
		return scanerr.Wrap(scanerr.ErrValidation, "selection", "move", fmt.Sprintf("index out of range (from=%d to=%d len=%d)", from, to, n), nil)
	}
	if from == to {
		return nil
	}
	page := m.pages[from]
	if from < to {
		copy(m.pages[from:to], m.pages[from+1:to+1])
	} else {
		copy(m.pages[to+1:from+1], m.pages[to:from])
	}
	m.pages[to] = page
	m.notify()
	return nil
}

// Toggle flips the selection flag of a detected page and returns the new
// value. Manual captures are always selected.
func (m *Model) Toggle(id string) (bool, error) {
	if err := m.live("toggle"); err != nil {
		return false, err
	}
	idx := m.index(id)
	if idx < 0 {
		return false, unknownPage("toggle", id)
	}
	if m.pages[idx].Source != SourceDetected {
		return false, scanerr.Wrap(scanerr.ErrValidation, "selection", "toggle", "only detected pages can be toggled", nil)
	}
	m.pages[idx].Selected = !m.pages[idx].Selected
	return m.pages[idx].Selected, nil
}

// SetEdit applies or replaces the edit for a page.
func (m *Model) SetEdit(id string, edit Edit) error {
	if err := m.live("set edit"); err != nil {
		return err
	}
	if m.index(id) < 0 {
		return unknownPage("set edit", id)
	}
	if err := edit.Validate(); err != nil {
		return err
	}
	m.edits[id] = edit.Normalized()
	return nil
}

// ResetEdit drops the edit for a page so it exports with defaults.
func (m *Model) ResetEdit(id string) error {
	if err := m.live("reset edit"); err != nil {
		return err
	}
	if m.index(id) < 0 {
		return unknownPage("reset edit", id)
	}
	delete(m.edits, id)
	return nil
}

// Edit returns the explicit edit for a page, if one was set.
func (m *Model) Edit(id string) (Edit, bool) {
	e, ok := m.edits[id]
	return e, ok
}

// EditOrDefault returns the explicit edit or DefaultEdit.
func (m *Model) EditOrDefault(id string) Edit {
	if e, ok := m.edits[id]; ok {
		return e
	}
	return DefaultEdit()
}

// Edits returns a copy of the explicit edits.
func (m *Model) Edits() map[string]Edit {
	out := make(map[string]Edit, len(m.edits))
	for id, e := range m.edits {
		out[id] = e
	}
	return out
}

// Confirm records the current working order as the export order.
func (m *Model) Confirm() []string {
	m.confirmed = m.ids()
	m.notify()
	return append([]string(nil), m.confirmed...)
}

// Confirmed reports whether an order has been confirmed.
func (m *Model) Confirmed() bool { return m.confirmed != nil }

// ExportOrder returns the selected pages in the last confirmed order. Pages
// added after the confirmation follow in insertion order. Without a
// confirmation the insertion order is used.
func (m *Model) ExportOrder() []Page {
	byID := make(map[string]Page, len(m.pages))
	for _, p := range m.pages {
		byID[p.ID] = p
	}
	out := make([]Page, 0, len(m.pages))
	seen := make(map[string]bool, len(m.confirmed))
	for _, id := range m.confirmed {
		if p, ok := byID[id]; ok && p.Selected {
			out = append(out, p)
		}
		seen[id] = true
	}
	rest := make([]Page, 0, len(m.pages))
	for _, p := range m.pages {
		if p.Selected && !seen[p.ID] {
			rest = append(rest, p)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].seq < rest[j].seq })
	return append(out, rest...)
}

// Image returns the buffer for a page, reloading it from disk if needed.
func (m *Model) Image(id string) (*imaging.Buffer, error) {
	idx := m.index(id)
	if idx < 0 {
		return nil, unknownPage("image", id)
	}
	if img, ok := m.images[id]; ok && img != nil {
		return img, nil
	}
	img, err := imaging.Load(m.pages[idx].ThumbPath)
	if err != nil {
		return nil, fmt.Errorf("load thumbnail %s: %w", id, err)
	}
	m.images[id] = img
	return img, nil
}

// Consistent verifies that every live page has a readable thumbnail file and
// that the directory holds no thumbnail without a live page.
func (m *Model) Consistent() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if m.released && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read thumbnail dir: %w", err)
	}
	live := make(map[string]bool, len(m.pages))
	for _, p := range m.pages {
		live[filepath.Base(p.ThumbPath)] = true
		info, err := os.Stat(p.ThumbPath)
		if err != nil || !info.Mode().IsRegular() {
			return scanerr.Wrap(scanerr.ErrSessionInvariant, "selection", "consistency", "missing thumbnail for page "+p.ID, err)
		}
	}
	for _, entry := range entries {
		if !live[entry.Name()] {
			return scanerr.Wrap(scanerr.ErrSessionInvariant, "selection", "consistency", "orphan thumbnail "+entry.Name(), nil)
		}
	}
	return nil
}

// Release drops every page and in-memory buffer and deletes the thumbnail
// files. The model rejects further mutations. Release is idempotent.
func (m *Model) Release() error {
	if m.released {
		return nil
	}
	m.released = true
	m.pages = nil
	m.images = make(map[string]*imaging.Buffer)
	m.edits = make(map[string]Edit)
	m.confirmed = nil
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("remove thumbnails: %w", err)
	}
	return nil
}

func (m *Model) store(source Source, timestampMS int64, quality float64, img *imaging.Buffer) (Page, error) {
	if img == nil {
		return Page{}, scanerr.Wrap(scanerr.ErrValidation, "selection", "store", "empty image", nil)
	}
	id := uuid.NewString()
	path := filepath.Join(m.dir, id+thumbExt)
	if err := img.Save(path); err != nil {
		return Page{}, fmt.Errorf("write thumbnail: %w", err)
	}
	m.nextSeq++
	return Page{
		ID:          id,
		TimestampMS: timestampMS,
		Quality:     quality,
		Source:      source,
		ThumbPath:   path,
		seq:         m.nextSeq,
	}, nil
}

func (m *Model) dropAll() {
	for _, p := range m.pages {
		if err := os.Remove(p.ThumbPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(m.logger, "thumbnail removal failed", "thumbnail_cleanup",
				logging.String("page_id", p.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the sweeper removes leftovers when the session ends"),
			)
		}
	}
	m.pages = nil
	m.images = make(map[string]*imaging.Buffer)
	m.edits = make(map[string]Edit)
	m.confirmed = nil
}

func (m *Model) live(op string) error {
	if m.released {
		return scanerr.Wrap(scanerr.ErrSessionInvariant, "selection", op, "model released", nil)
	}
	return nil
}

func (m *Model) index(id string) int {
	for i, p := range m.pages {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) ids() []string {
	ids := make([]string, len(m.pages))
	for i, p := range m.pages {
		ids[i] = p.ID
	}
	return ids
}

func (m *Model) notify() {
	if m.onOrder != nil {
		m.onOrder(m.ids())
	}
}

func unknownPage(op, id string) error {
	return scanerr.Wrap(scanerr.ErrValidation, "selection", op, fmt.Sprintf("unknown page %q", id), nil)
}

func without(ids []string, id string) []string {
	if ids == nil {
		return nil
	}
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
