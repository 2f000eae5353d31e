package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func scanSession(scanner interface{ Scan(dest ...any) error }) (*SessionRecord, error) {
	var (
		rec        SessionRecord
		mode       sql.NullString
		sourcePath sql.NullString
		order      sql.NullString
		errMsg     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.State,
		&mode,
		&sourcePath,
		&rec.ScopeDir,
		&rec.DurationMS,
		&rec.TrimStartMS,
		&rec.TrimEndMS,
		&order,
		&errMsg,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Mode = mode.String
	rec.SourcePath = sourcePath.String
	rec.PageOrder = decodeOrder(order.String)
	rec.Error = errMsg.String
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return &rec, nil
}

// SaveSession inserts or updates a session row. The page order is left
// untouched when rec.PageOrder is nil.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("session id required")
	}
	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	order, err := encodeOrder(rec.PageOrder)
	if err != nil {
		return fmt.Errorf("encode page order: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO sessions (
            id, state, mode, source_path, scope_dir, duration_ms,
            trim_start_ms, trim_end_ms, page_order_json, error_message,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            state = excluded.state,
            mode = excluded.mode,
            source_path = excluded.source_path,
            scope_dir = excluded.scope_dir,
            duration_ms = excluded.duration_ms,
            trim_start_ms = excluded.trim_start_ms,
            trim_end_ms = excluded.trim_end_ms,
            page_order_json = COALESCE(excluded.page_order_json, sessions.page_order_json),
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		rec.ID,
		rec.State,
		nullableString(rec.Mode),
		nullableString(rec.SourcePath),
		rec.ScopeDir,
		rec.DurationMS,
		rec.TrimStartMS,
		rec.TrimEndMS,
		order,
		nullableString(rec.Error),
		formatTime(created),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveOrder persists the working page order of a session.
func (s *Store) SaveOrder(ctx context.Context, id string, order []string) error {
	if order == nil {
		order = []string{}
	}
	encoded, err := encodeOrder(order)
	if err != nil {
		return fmt.Errorf("encode page order: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET page_order_json = ?, updated_at = ? WHERE id = ?`,
		encoded, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("save page order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save page order: session %s not found", id)
	}
	return nil
}

// GetSession returns the row for id, or nil when none exists.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns sessions newest first, optionally filtered by state.
func (s *Store) ListSessions(ctx context.Context, states ...string) ([]SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, state := range states {
			placeholders[i] = "?"
			args = append(args, state)
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AbandonOpenSessions marks every non-terminal session as discarded and
// returns their ids. Sessions do not survive a process restart, so this runs
// before the startup sweep.
func (s *Store) AbandonOpenSessions(ctx context.Context, reason string) ([]string, error) {
	open, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, rec := range open {
		if !rec.Terminal() {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = s.execWithRetry(ctx,
		`UPDATE sessions SET state = ?, error_message = ?, updated_at = ?
         WHERE state NOT IN (?, ?)`,
		StateDiscarded, nullableString(reason), formatTime(time.Now()),
		StateDiscarded, StateExported,
	)
	if err != nil {
		return nil, fmt.Errorf("abandon sessions: %w", err)
	}
	return ids, nil
}
