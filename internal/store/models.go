package store

import "time"

// Terminal session states as persisted. Rows in any other state belong to a
// session that was live when it was last written.
const (
	StateDiscarded = "DISCARDED"
	StateExported  = "EXPORTED"
)

// SessionRecord is the persisted view of a session.
type SessionRecord struct {
	ID          string
	State       string
	Mode        string
	SourcePath  string
	ScopeDir    string
	DurationMS  int64
	TrimStartMS int64
	TrimEndMS   int64
	PageOrder   []string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the record is in a final state.
func (r SessionRecord) Terminal() bool {
	return r.State == StateDiscarded || r.State == StateExported
}

// ExportRecord is one completed export in the history.
type ExportRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	PageCount int       `json:"page_count"`
	Preset    string    `json:"preset"`
	PageSize  string    `json:"page_size"`
	Grayscale bool      `json:"grayscale"`
	CreatedAt time.Time `json:"created_at"`
}
