package session

import (
	"sync"
	"time"

	"videos2pdf/internal/detect"
	"videos2pdf/internal/pdfexport"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/selection"
)

// TaskKind names a background task.
type TaskKind string

const (
	TaskNone       TaskKind = ""
	TaskDetection  TaskKind = "detection"
	TaskProcessing TaskKind = "processing"
	TaskExport     TaskKind = "export"
)

// Snapshot is an immutable view of a session. Every field is a copy; holders
// may keep it as long as they like.
type Snapshot struct {
	Version    uint64
	ID         string
	State      State
	Mode       Mode
	Branch     Branch
	SourcePath string
	ScopeDir   string
	DurationMS int64
	Trim       detect.Range
	Density    float64

	// Pages lists every candidate in working order, excluded ones included.
	Pages       []selection.Page
	Edits       map[string]selection.Edit
	ExportOrder []string
	Confirmed   bool

	Profile   pdfexport.Profile
	OutputDir string
	Task      TaskKind
	Progress  float64

	LastError string
	ErrorKind string
	Export    *pdfexport.Result
	UpdatedAt time.Time
}

// Selected returns the number of selected pages.
func (s Snapshot) Selected() int {
	n := 0
	for _, p := range s.Pages {
		if p.Selected {
			n++
		}
	}
	return n
}

// Excluded returns the detector exclusions by reason.
func (s Snapshot) Excluded() map[detect.Reason]int {
	counts := make(map[detect.Reason]int)
	for _, p := range s.Pages {
		if p.Reason != detect.ReasonNone {
			counts[p.Reason]++
		}
	}
	return counts
}

func errorFields(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	return err.Error(), scanerr.Kind(err)
}

// hub fans snapshots out to subscribers. Each subscriber channel holds at
// most one value; a slow reader only ever sees the latest snapshot.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Snapshot)}
}

func (h *hub) subscribe(current Snapshot) (<-chan Snapshot, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if h.closed {
		ch <- current
		close(ch)
		return ch, func() {}
	}
	ch <- current
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *hub) publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// close delivers nothing further; subscriber channels are closed after the
// final snapshot already queued.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
