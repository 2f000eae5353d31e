package imaging

// Luminance returns the Rec. 601 luma of an RGB triple.
func Luminance(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// LuminanceVariance computes the population variance of pixel luminance over
// a uniform subsample: every stride-th pixel in row-major order.
func (b *Buffer) LuminanceVariance(stride int) float64 {
	if stride < 1 {
		stride = 1
	}
	w, h := b.Width(), b.Height()
	total := w * h
	if total == 0 {
		return 0
	}
	var sum, sumSq float64
	var n int
	for i := 0; i < total; i += stride {
		x, y := i%w, i/w
		off := b.img.PixOffset(x, y)
		px := b.img.Pix[off : off+3 : off+3]
		l := Luminance(px[0], px[1], px[2])
		sum += l
		sumSq += l * l
		n++
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}

// Grid downsamples the buffer to an n x n grid by area averaging and returns
// the per-cell channel means as [r, g, b] triples in row-major order.
func (b *Buffer) Grid(n int) [][3]float64 {
	if n < 1 {
		n = 1
	}
	w, h := b.Width(), b.Height()
	cells := make([][3]float64, n*n)
	if w == 0 || h == 0 {
		return cells
	}
	for cy := 0; cy < n; cy++ {
		y0, y1 := cellSpan(cy, n, h)
		for cx := 0; cx < n; cx++ {
			x0, x1 := cellSpan(cx, n, w)
			var acc [3]float64
			for y := y0; y < y1; y++ {
				row := b.img.PixOffset(x0, y)
				for x := x0; x < x1; x++ {
					acc[0] += float64(b.img.Pix[row])
					acc[1] += float64(b.img.Pix[row+1])
					acc[2] += float64(b.img.Pix[row+2])
					row += 4
				}
			}
			count := float64((x1 - x0) * (y1 - y0))
			cells[cy*n+cx] = [3]float64{acc[0] / count, acc[1] / count, acc[2] / count}
		}
	}
	return cells
}

// cellSpan returns the half-open pixel range covered by cell i of n along an
// axis of the given length. Every cell covers at least one pixel.
func cellSpan(i, n, length int) (int, int) {
	start := i * length / n
	end := (i + 1) * length / n
	if start >= length {
		start = length - 1
	}
	if end <= start {
		end = start + 1
	}
	return start, end
}
