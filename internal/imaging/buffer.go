package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// StorageQuality is the JPEG quality used for page buffers persisted inside a
// session scope. Export re-encodes at the profile's quality.
const StorageQuality = 92

// Buffer is an opaque, immutable image handle. Every operation returns a new
// Buffer so callers can share one freely between goroutines.
type Buffer struct {
	img *image.NRGBA
}

// Rect is a crop rectangle in normalized [0,1] coordinates of the source image.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Valid reports whether r describes a non-empty region inside the unit square.
func (r Rect) Valid() bool {
	return r.Left >= 0 && r.Top >= 0 && r.Right <= 1 && r.Bottom <= 1 &&
		r.Left < r.Right && r.Top < r.Bottom
}

// Full reports whether r covers the whole image.
func (r Rect) Full() bool {
	return r.Left == 0 && r.Top == 0 && r.Right == 1 && r.Bottom == 1
}

// New wraps img. Non-NRGBA images are converted; an NRGBA image anchored at
// the origin is adopted without copying and must not be mutated afterwards.
func New(img image.Image) *Buffer {
	if img == nil {
		return nil
	}
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return &Buffer{img: nrgba}
	}
	return &Buffer{img: imaging.Clone(img)}
}

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (*Buffer, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return New(img), nil
}

// Load decodes the image stored at path.
func Load(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Image exposes the underlying pixels. Callers must not mutate them.
func (b *Buffer) Image() image.Image {
	return b.img
}

// Width returns the pixel width.
func (b *Buffer) Width() int { return b.img.Rect.Dx() }

// Height returns the pixel height.
func (b *Buffer) Height() int { return b.img.Rect.Dy() }

// Save writes the buffer as JPEG at StorageQuality, replacing path atomically.
func (b *Buffer) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := b.EncodeJPEG(f, StorageQuality); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// EncodeJPEG writes the buffer as a baseline JPEG.
func (b *Buffer) EncodeJPEG(w io.Writer, quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("jpeg quality %d out of range", quality)
	}
	return imaging.Encode(w, b.img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// Fit scales the buffer down so it fits in maxW x maxH preserving aspect ratio.
// Buffers already inside the box are returned unchanged.
func (b *Buffer) Fit(maxW, maxH int) *Buffer {
	w, h := b.Width(), b.Height()
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) {
		return b
	}
	ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return b.Scale(int(math.Round(float64(w)*ratio)), int(math.Round(float64(h)*ratio)))
}

// FitLongEdge scales the buffer so its longer edge is at most edge pixels.
func (b *Buffer) FitLongEdge(edge int) *Buffer {
	return b.Fit(edge, edge)
}

// Scale resamples the buffer to exactly w x h.
func (b *Buffer) Scale(w, h int) *Buffer {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if w == b.Width() && h == b.Height() {
		return b
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), b.img, b.img.Bounds(), draw.Src, nil)
	return &Buffer{img: dst}
}

// ErrRotation reports a rotation that is not a multiple of 90 degrees.
var ErrRotation = errors.New("rotation must be 0, 90, 180 or 270 degrees")

// Rotate turns the buffer clockwise by degrees.
func (b *Buffer) Rotate(degrees int) (*Buffer, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return b, nil
	case 90:
		return &Buffer{img: imaging.Rotate270(b.img)}, nil
	case 180:
		return &Buffer{img: imaging.Rotate180(b.img)}, nil
	case 270:
		return &Buffer{img: imaging.Rotate90(b.img)}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrRotation, degrees)
	}
}

// Desaturate converts the buffer to grayscale.
func (b *Buffer) Desaturate() *Buffer {
	return &Buffer{img: imaging.Grayscale(b.img)}
}

// Crop cuts the normalized rectangle r out of the buffer.
func (b *Buffer) Crop(r Rect) (*Buffer, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid crop rectangle %+v", r)
	}
	if r.Full() {
		return b, nil
	}
	w, h := float64(b.Width()), float64(b.Height())
	rect := image.Rect(
		int(math.Floor(r.Left*w)),
		int(math.Floor(r.Top*h)),
		int(math.Ceil(r.Right*w)),
		int(math.Ceil(r.Bottom*h)),
	)
	if rect.Empty() {
		return nil, fmt.Errorf("crop rectangle %+v is empty at %dx%d", r, b.Width(), b.Height())
	}
	return &Buffer{img: imaging.Crop(b.img, rect)}, nil
}

// Enhance applies the document look: grayscale, boosted contrast and a light sharpen.
func (b *Buffer) Enhance() *Buffer {
	img := imaging.Grayscale(b.img)
	img = imaging.AdjustContrast(img, 35)
	img = imaging.Sharpen(img, 0.6)
	return &Buffer{img: img}
}

// AutoLevels stretches each channel so its darkest and brightest samples
// reach 0 and 255.
func (b *Buffer) AutoLevels() *Buffer {
	var lo, hi [3]uint8
	lo = [3]uint8{255, 255, 255}
	pix := b.img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := pix[i+c]
			if v < lo[c] {
				lo[c] = v
			}
			if v > hi[c] {
				hi[c] = v
			}
		}
	}
	var lut [3][256]uint8
	for c := 0; c < 3; c++ {
		span := int(hi[c]) - int(lo[c])
		for v := 0; v < 256; v++ {
			if span <= 0 {
				lut[c][v] = uint8(v)
				continue
			}
			scaled := (v - int(lo[c])) * 255 / span
			lut[c][v] = uint8(min(max(scaled, 0), 255))
		}
	}
	img := imaging.AdjustFunc(b.img, func(px color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[0][px.R], G: lut[1][px.G], B: lut[2][px.B], A: px.A}
	})
	return &Buffer{img: img}
}
