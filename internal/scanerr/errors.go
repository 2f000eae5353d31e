package scanerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecode marks a source video that is unreadable at a timestamp.
	ErrDecode = errors.New("decode error")
	// ErrLowStorage marks insufficient free space before recording or exporting.
	ErrLowStorage = errors.New("low storage")
	// ErrExport marks any failure during PDF assembly.
	ErrExport = errors.New("export error")
	// ErrSessionInvariant marks a broken caller contract: a second live session
	// or a command against a discarded session.
	ErrSessionInvariant = errors.New("session invariant violation")
	// ErrValidation marks a rejected user command (bad trim range, unknown page).
	ErrValidation = errors.New("validation error")
	// ErrBusy marks a command rejected because a background task owns the resource.
	ErrBusy = errors.New("busy")
	// ErrExternalTool marks a missing or failing ffmpeg/ffprobe binary.
	ErrExternalTool = errors.New("external tool error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the user can retry the failed operation from the
// state the session was returned to.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSessionInvariant):
		return false
	case errors.Is(err, ErrDecode), errors.Is(err, ErrExport), errors.Is(err, ErrLowStorage), errors.Is(err, ErrBusy):
		return true
	default:
		return false
	}
}

// Fatal reports whether err is a programming-contract failure that a correct
// caller never triggers.
func Fatal(err error) bool {
	return errors.Is(err, ErrSessionInvariant)
}

// Kind returns a short classification label for logs and CLI output.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionInvariant):
		return "session_invariant"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrLowStorage):
		return "low_storage"
	case errors.Is(err, ErrExport):
		return "export"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrExternalTool):
		return "external_tool"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "unknown"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
