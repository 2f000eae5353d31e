package pdfexport

import (
	"fmt"
	"strings"

	"videos2pdf/internal/config"
	"videos2pdf/internal/scanerr"
	"videos2pdf/internal/textutil"
)

// Preset maps to a JPEG quality and a resolution scale.
type Preset string

const (
	PresetEmailFriendly Preset = "EMAIL_FRIENDLY"
	PresetBalanced      Preset = "BALANCED"
	PresetPrint         Preset = "PRINT"
)

// baseDPI is the raster density at scale 1.0.
const baseDPI = 300

var presetSettings = map[Preset]struct {
	quality int
	scale   float64
}{
	PresetEmailFriendly: {quality: 60, scale: 0.5},
	PresetBalanced:      {quality: 80, scale: 0.75},
	PresetPrint:         {quality: 92, scale: 1.0},
}

// ParsePreset accepts preset names case-insensitively.
func ParsePreset(value string) (Preset, error) {
	p := Preset(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := presetSettings[p]; !ok {
		return "", scanerr.Wrap(scanerr.ErrValidation, "export", "preset", fmt.Sprintf("unknown preset %q", value), nil)
	}
	return p, nil
}

// Quality returns the JPEG quality for embedded page images.
func (p Preset) Quality() int { return presetSettings[p].quality }

// Scale returns the resolution factor; PRINT is largest.
func (p Preset) Scale() float64 { return presetSettings[p].scale }

// DPI returns the raster density used when rendering pages.
func (p Preset) DPI() float64 { return baseDPI * p.Scale() }

// PageSize is the page-size policy.
type PageSize string

const (
	PageSizeAuto   PageSize = "AUTO"
	PageSizeA4     PageSize = "A4"
	PageSizeLetter PageSize = "LETTER"
	PageSizeLegal  PageSize = "LEGAL"
)

// Paper dimensions in points (portrait).
var paperSizes = map[PageSize][2]float64{
	PageSizeA4:     {595.28, 841.89},
	PageSizeLetter: {612, 792},
	PageSizeLegal:  {612, 1008},
}

const (
	// autoLongEdge is the long edge of AUTO pages, matching A4.
	autoLongEdge = 841.89
	// paperMargin surrounds images on fixed paper sizes.
	paperMargin = 24.0
)

// ParsePageSize accepts page-size names case-insensitively.
func ParsePageSize(value string) (PageSize, error) {
	s := PageSize(strings.ToUpper(strings.TrimSpace(value)))
	if s == PageSizeAuto {
		return s, nil
	}
	if _, ok := paperSizes[s]; !ok {
		return "", scanerr.Wrap(scanerr.ErrValidation, "export", "page size", fmt.Sprintf("unknown page size %q", value), nil)
	}
	return s, nil
}

// Profile is the export configuration chosen in EXPORT_SETUP.
type Profile struct {
	Preset    Preset   `json:"preset"`
	PageSize  PageSize `json:"page_size"`
	Grayscale bool     `json:"grayscale"`
	Stem      string   `json:"stem"`
}

// DefaultStem is used when the user leaves the filename empty.
const DefaultStem = "scan"

// DefaultProfile returns BALANCED, AUTO, colour, "scan".
func DefaultProfile() Profile {
	return Profile{Preset: PresetBalanced, PageSize: PageSizeAuto, Stem: DefaultStem}
}

// ProfileFromConfig builds the default profile from the export section.
func ProfileFromConfig(cfg config.Export) (Profile, error) {
	preset, err := ParsePreset(cfg.Preset)
	if err != nil {
		return Profile{}, err
	}
	size, err := ParsePageSize(cfg.PageSize)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Preset:    preset,
		PageSize:  size,
		Grayscale: cfg.Grayscale,
		Stem:      textutil.NormalizeStem(cfg.FilenameStem, DefaultStem),
	}, nil
}

// Validate checks preset and page size.
func (p Profile) Validate() error {
	if _, ok := presetSettings[p.Preset]; !ok {
		return scanerr.Wrap(scanerr.ErrValidation, "export", "profile", fmt.Sprintf("unknown preset %q", p.Preset), nil)
	}
	if _, err := ParsePageSize(string(p.PageSize)); err != nil {
		return err
	}
	return nil
}

// canvas returns the page size in points for an image of the given pixel
// dimensions, and the margin around the image. Fixed paper follows the
// image's orientation.
func (p Profile) canvas(imgW, imgH int) (w, h, margin float64) {
	landscape := imgW > imgH
	if p.PageSize == PageSizeAuto || p.PageSize == "" {
		long := autoLongEdge
		if landscape {
			return long, long * float64(imgH) / float64(imgW), 0
		}
		return long * float64(imgW) / float64(imgH), long, 0
	}
	dims := paperSizes[p.PageSize]
	if landscape {
		return dims[1], dims[0], paperMargin
	}
	return dims[0], dims[1], paperMargin
}
