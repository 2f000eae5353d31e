package store

import (
	"encoding/json"
	"errors"
	"time"
)

const sessionColumns = "id, state, mode, source_path, scope_dir, duration_ms, trim_start_ms, trim_end_ms, page_order_json, error_message, created_at, updated_at"

const exportColumns = "id, session_id, path, size_bytes, page_count, preset, page_size, grayscale, created_at"

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func encodeOrder(order []string) (any, error) {
	if order == nil {
		return nil, nil
	}
	data, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeOrder(raw string) []string {
	if raw == "" {
		return nil
	}
	var order []string
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil
	}
	return order
}
