package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	validPresets   = map[string]struct{}{"email_friendly": {}, "balanced": {}, "print": {}}
	validPageSizes = map[string]struct{}{"auto": {}, "a4": {}, "letter": {}, "legal": {}}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validatePaths keeps the workspace disjoint from every directory the
// startup sweep must not touch. The workspace may live inside state_dir, but
// never contain it: the store and the workspace lock live there.
func (c *Config) validatePaths() error {
	workspace := strings.TrimSpace(c.Paths.WorkspaceDir)
	if workspace == "" {
		return errors.New("paths.workspace_dir is required")
	}
	others := []struct {
		key         string
		path        string
		allowNested bool
	}{
		{"paths.output_dir", c.Paths.OutputDir, false},
		{"paths.state_dir", c.Paths.StateDir, true},
		{"paths.log_dir", c.Paths.LogDir, false},
	}
	for _, other := range others {
		path := strings.TrimSpace(other.path)
		if path == "" {
			continue
		}
		switch {
		case samePath(workspace, path):
			return fmt.Errorf("paths.workspace_dir must differ from %s (%s)", other.key, path)
		case withinPath(workspace, path):
			return fmt.Errorf("paths.workspace_dir must not contain %s (%s)", other.key, path)
		case !other.allowNested && withinPath(path, workspace):
			return fmt.Errorf("paths.workspace_dir must not be inside %s (%s)", other.key, path)
		}
	}
	return nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// withinPath reports whether child is strictly below parent.
func withinPath(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (c *Config) validateDetection() error {
	d := c.Detection
	if d.Density < 0 || d.Density > 1 {
		return errors.New("detection.density must be between 0 and 1")
	}
	if d.BlurThreshold < 0 || d.BlurThreshold > 1 {
		return errors.New("detection.blur_threshold must be between 0 and 1")
	}
	if d.MotionBlurThreshold < d.BlurThreshold || d.MotionBlurThreshold > 1 {
		return errors.New("detection.motion_blur_threshold must be between blur_threshold and 1")
	}
	if d.DuplicateSimilarity <= 0 || d.DuplicateSimilarity > 1 {
		return errors.New("detection.duplicate_similarity must be in (0, 1]")
	}
	if d.VarianceScale <= 0 {
		return errors.New("detection.variance_scale must be positive")
	}
	if d.PixelStride < 1 {
		return errors.New("detection.pixel_stride must be at least 1")
	}
	if d.GridSize < 1 {
		return errors.New("detection.grid_size must be at least 1")
	}
	if d.ThumbnailMaxEdge < 64 {
		return errors.New("detection.thumbnail_max_edge must be at least 64")
	}
	return nil
}

func (c *Config) validateExport() error {
	if _, ok := validPresets[c.Export.Preset]; !ok {
		return fmt.Errorf("export.preset: unsupported value %q (use email_friendly, balanced or print)", c.Export.Preset)
	}
	if _, ok := validPageSizes[c.Export.PageSize]; !ok {
		return fmt.Errorf("export.page_size: unsupported value %q (use auto, a4, letter or legal)", c.Export.PageSize)
	}
	if c.Export.MinFreeMiB < 0 {
		return errors.New("export.min_free_mib must not be negative")
	}
	if c.Export.MaxPages <= 0 {
		return errors.New("export.max_pages must be positive")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.MinTrimMillis <= 0 {
		return errors.New("session.min_trim_ms must be positive")
	}
	if c.Session.MinRecordFreeMiB < 0 {
		return errors.New("session.min_record_free_mib must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
