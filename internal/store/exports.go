package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordExport appends a completed export to the history.
func (s *Store) RecordExport(ctx context.Context, rec ExportRecord) (int64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO exports (
            session_id, path, size_bytes, page_count, preset, page_size, grayscale, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Path,
		rec.SizeBytes,
		rec.PageCount,
		nullableString(rec.Preset),
		nullableString(rec.PageSize),
		boolToInt(rec.Grayscale),
		formatTime(created),
	)
	if err != nil {
		return 0, fmt.Errorf("record export: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ListExports returns the newest exports first. A limit <= 0 returns all.
func (s *Store) ListExports(ctx context.Context, limit int) ([]ExportRecord, error) {
	query := `SELECT ` + exportColumns + ` FROM exports ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var (
			rec        ExportRecord
			preset     sql.NullString
			pageSize   sql.NullString
			grayscale  int
			createdRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Path, &rec.SizeBytes, &rec.PageCount,
			&preset, &pageSize, &grayscale, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		rec.Preset = preset.String
		rec.PageSize = pageSize.String
		rec.Grayscale = grayscale != 0
		if created, err := parseTimeString(createdRaw); err == nil {
			rec.CreatedAt = created
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
