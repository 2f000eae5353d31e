package selection

import (
	"fmt"
	"strings"

	"videos2pdf/internal/imaging"
	"videos2pdf/internal/scanerr"
)

// FilterMode is the per-page colour treatment.
type FilterMode string

const (
	FilterOriginal  FilterMode = "ORIGINAL"
	FilterGrayscale FilterMode = "GRAYSCALE"
	FilterEnhanced  FilterMode = "ENHANCED"
)

// ParseFilter accepts the canonical names and their aliases
// (BLACK_WHITE for GRAYSCALE, DOCUMENT for ENHANCED), case-insensitively.
func ParseFilter(value string) (FilterMode, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "ORIGINAL":
		return FilterOriginal, nil
	case "GRAYSCALE", "BLACK_WHITE":
		return FilterGrayscale, nil
	case "ENHANCED", "DOCUMENT":
		return FilterEnhanced, nil
	default:
		return "", scanerr.Wrap(scanerr.ErrValidation, "selection", "parse filter", fmt.Sprintf("unknown filter %q", value), nil)
	}
}

// Edit holds the user's adjustments for one page. The zero value means
// "no rotation, original colours, no crop".
type Edit struct {
	Rotation int          `json:"rotation"`
	Filter   FilterMode   `json:"filter"`
	AutoFix  bool         `json:"auto_fix"`
	Crop     imaging.Rect `json:"crop"`
}

// DefaultEdit returns the edit applied to pages the user never touched.
func DefaultEdit() Edit {
	return Edit{Filter: FilterOriginal}
}

// Normalized fills the zero filter with FilterOriginal.
func (e Edit) Normalized() Edit {
	if e.Filter == "" {
		e.Filter = FilterOriginal
	}
	return e
}

// HasCrop reports whether the edit crops anything.
func (e Edit) HasCrop() bool {
	return e.Crop != (imaging.Rect{}) && !e.Crop.Full()
}

// Grayscale reports whether the filter desaturates the page.
func (e Edit) Grayscale() bool {
	return e.Filter == FilterGrayscale || e.Filter == FilterEnhanced
}

// Validate checks rotation, filter and crop.
func (e Edit) Validate() error {
	switch e.Rotation {
	case 0, 90, 180, 270:
	default:
		return scanerr.Wrap(scanerr.ErrValidation, "selection", "edit", fmt.Sprintf("rotation %d not in {0,90,180,270}", e.Rotation), nil)
	}
	switch e.Normalized().Filter {
	case FilterOriginal, FilterGrayscale, FilterEnhanced:
	default:
		return scanerr.Wrap(scanerr.ErrValidation, "selection", "edit", fmt.Sprintf("unknown filter %q", e.Filter), nil)
	}
	if e.Crop != (imaging.Rect{}) && !e.Crop.Valid() {
		return scanerr.Wrap(scanerr.ErrValidation, "selection", "edit", "crop rectangle outside the unit square", nil)
	}
	return nil
}
