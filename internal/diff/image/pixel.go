package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// maxYIQDelta is the largest weighted YIQ distance between two opaque colours.
const maxYIQDelta = 35215

type PixelDiff struct {
	threshold           float64
	includeAntiAliasing bool
	alpha               float64
	antiAliasingColor   color.NRGBA
	diffColor           color.NRGBA
	diffColorAlt        *color.NRGBA
	diffMask            bool
	mergeDistance       int
}

type Option func(*PixelDiff)

// WithIncludeAntiAliasing counts anti-aliased pixels as differences instead of ignoring them.
func WithIncludeAntiAliasing(include bool) Option {
	return func(p *PixelDiff) {
		p.includeAntiAliasing = include
	}
}

// WithAlpha sets the opacity of unchanged pixels in the diff image.
func WithAlpha(alpha float64) Option {
	return func(p *PixelDiff) {
		p.alpha = alpha
	}
}

func WithAntiAliasingColor(c color.NRGBA) Option {
	return func(p *PixelDiff) {
		p.antiAliasingColor = c
	}
}

func WithDiffColor(c color.NRGBA) Option {
	return func(p *PixelDiff) {
		p.diffColor = c
	}
}

// WithDiffColorAlt paints pixels that got darker in the captured image with c.
func WithDiffColorAlt(c color.NRGBA) Option {
	return func(p *PixelDiff) {
		p.diffColorAlt = &c
	}
}

// WithDiffMask leaves unchanged pixels transparent instead of drawing a dimmed copy.
func WithDiffMask(mask bool) Option {
	return func(p *PixelDiff) {
		p.diffMask = mask
	}
}

// WithMergeDistance sets how close two difference regions must be to be merged.
func WithMergeDistance(distance int) Option {
	return func(p *PixelDiff) {
		p.mergeDistance = distance
	}
}

func NewPixelDiff(threshold float64, opts ...Option) *PixelDiff {
	p := &PixelDiff{
		threshold:         threshold,
		alpha:             0.1,
		antiAliasingColor: color.NRGBA{R: 255, G: 255, B: 0, A: 255},
		diffColor:         color.NRGBA{R: 255, G: 0, B: 0, A: 255},
		mergeDistance:     10,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PixelDiff) Calculate(reference image.Image, captured image.Image) (*DiffResult, error) {
	referenceBounds := reference.Bounds()
	capturedBounds := captured.Bounds()
	if referenceBounds.Dx() != capturedBounds.Dx() || referenceBounds.Dy() != capturedBounds.Dy() {
		return nil, fmt.Errorf("%w: reference is %dx%d, captured is %dx%d", ErrDimensionMismatch,
			referenceBounds.Dx(), referenceBounds.Dy(), capturedBounds.Dx(), capturedBounds.Dy())
	}

	width := referenceBounds.Dx()
	height := referenceBounds.Dy()
	totalPixelCount := width * height

	if reference == captured {
		return &DiffResult{TotalPixels: totalPixelCount}, nil
	}

	referenceNRGBA := toNRGBA(reference)
	capturedNRGBA := toNRGBA(captured)
	if bytes.Equal(referenceNRGBA.Pix, capturedNRGBA.Pix) {
		return &DiffResult{TotalPixels: totalPixelCount}, nil
	}

	diff := image.NewNRGBA(image.Rect(0, 0, width, height))
	mask := make([]bool, totalPixelCount)

	var diffPixelCount int64

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	numWorkers := runtime.GOMAXPROCS(0)
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}

		go func(startY int, endY int) {
			defer wg.Done()
			p.processRows(referenceNRGBA.Pix, capturedNRGBA.Pix, diff.Pix, mask, width, height, startY, endY, &diffPixelCount)
		}(startY, endY)
	}

	wg.Wait()

	if diffPixelCount == 0 {
		return &DiffResult{TotalPixels: totalPixelCount}, nil
	}

	return &DiffResult{
		Image:       diff,
		DiffPixels:  int(diffPixelCount),
		TotalPixels: totalPixelCount,
		Regions:     findRegions(mask, width, height, p.mergeDistance),
	}, nil
}

func (p *PixelDiff) processRows(reference []uint8, captured []uint8, diff []uint8, mask []bool, width int, height int, startY int, endY int, diffCount *int64) {
	maxDelta := maxYIQDelta * p.threshold * p.threshold

	var localDiff int64

	for y := startY; y < endY; y++ {
		for x := 0; x < width; x++ {
			offset := (y*width + x) * 4

			delta := colorDelta(reference, captured, offset, offset, false)
			if math.Abs(delta) > maxDelta {
				if !p.includeAntiAliasing &&
					(antialiased(reference, x, y, width, height, captured) || antialiased(captured, x, y, width, height, reference)) {
					if !p.diffMask {
						drawPixel(diff, offset, p.antiAliasingColor)
					}
					continue
				}

				c := p.diffColor
				if delta < 0 && p.diffColorAlt != nil {
					c = *p.diffColorAlt
				}
				drawPixel(diff, offset, c)
				mask[y*width+x] = true
				localDiff++
			} else if !p.diffMask {
				drawGrayPixel(reference, offset, p.alpha, diff)
			}
		}
	}

	atomic.AddInt64(diffCount, localDiff)
}

// toNRGBA returns img as a zero-origin NRGBA whose Pix rows are contiguous.
func toNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && bounds.Min == (image.Point{}) && n.Stride == 4*bounds.Dx() {
		return n
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}

// colorDelta returns the weighted YIQ distance between two pixels. The sign is
// negative when the first pixel is brighter. With yOnly only the luma
// difference is returned.
//
// Reference: Kotsarenko & Ramos, "Measuring perceived color difference using YIQ NTSC transmission color space in mobile applications" (2010)
func colorDelta(img1 []uint8, img2 []uint8, k int, m int, yOnly bool) float64 {
	r1 := float64(img1[k])
	g1 := float64(img1[k+1])
	b1 := float64(img1[k+2])
	a1 := float64(img1[k+3])

	r2 := float64(img2[m])
	g2 := float64(img2[m+1])
	b2 := float64(img2[m+2])
	a2 := float64(img2[m+3])

	if a1 == a2 && r1 == r2 && g1 == g2 && b1 == b2 {
		return 0
	}

	// Translucent pixels are compared as if composited over white.
	if a1 < 255 {
		a1 /= 255
		r1 = blend(r1, a1)
		g1 = blend(g1, a1)
		b1 = blend(b1, a1)
	}
	if a2 < 255 {
		a2 /= 255
		r2 = blend(r2, a2)
		g2 = blend(g2, a2)
		b2 = blend(b2, a2)
	}

	y1 := rgb2y(r1, g1, b1)
	y2 := rgb2y(r2, g2, b2)
	y := y1 - y2

	if yOnly {
		return y
	}

	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	delta := 0.5053*y*y + 0.299*i*i + 0.1957*q*q

	if y1 > y2 {
		return -delta
	}
	return delta
}

func rgb2y(r float64, g float64, b float64) float64 {
	return r*0.29889531 + g*0.58662247 + b*0.11448223
}

func rgb2i(r float64, g float64, b float64) float64 {
	return r*0.59597799 - g*0.27417610 - b*0.32180189
}

func rgb2q(r float64, g float64, b float64) float64 {
	return r*0.21147017 - g*0.52261711 + b*0.31114694
}

func blend(c float64, a float64) float64 {
	return 255 + (c-255)*a
}

// antialiased reports whether the pixel at (x1, y1) looks like an anti-aliased
// edge: it sits between a darker and a brighter neighbour, and at least one of
// those extremes belongs to a flat area in both images.
//
// Reference: Vysniauskas, "Anti-aliased Pixel and Intensity Slope Detector" (2009)
func antialiased(img []uint8, x1 int, y1 int, width int, height int, img2 []uint8) bool {
	x0 := max(x1-1, 0)
	y0 := max(y1-1, 0)
	x2 := min(x1+1, width-1)
	y2 := min(y1+1, height-1)
	offset := (y1*width + x1) * 4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	var minDelta, maxDelta float64
	var minX, minY, maxX, maxY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}

			delta := colorDelta(img, img, offset, (y*width+x)*4, true)
			if delta == 0 {
				zeroes++
				if zeroes > 2 {
					return false
				}
			} else if delta < minDelta {
				minDelta = delta
				minX = x
				minY = y
			} else if delta > maxDelta {
				maxDelta = delta
				maxX = x
				maxY = y
			}
		}
	}

	if minDelta == 0 || maxDelta == 0 {
		return false
	}

	return (hasManySiblings(img, minX, minY, width, height) && hasManySiblings(img2, minX, minY, width, height)) ||
		(hasManySiblings(img, maxX, maxY, width, height) && hasManySiblings(img2, maxX, maxY, width, height))
}

// hasManySiblings reports whether more than two neighbours share the exact colour of (x1, y1).
func hasManySiblings(img []uint8, x1 int, y1 int, width int, height int) bool {
	x0 := max(x1-1, 0)
	y0 := max(y1-1, 0)
	x2 := min(x1+1, width-1)
	y2 := min(y1+1, height-1)
	offset := (y1*width + x1) * 4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}

			other := (y*width + x) * 4
			if img[offset] == img[other] &&
				img[offset+1] == img[other+1] &&
				img[offset+2] == img[other+2] &&
				img[offset+3] == img[other+3] {
				zeroes++
			}

			if zeroes > 2 {
				return true
			}
		}
	}

	return false
}

func drawPixel(out []uint8, offset int, c color.NRGBA) {
	out[offset] = c.R
	out[offset+1] = c.G
	out[offset+2] = c.B
	out[offset+3] = c.A
}

func drawGrayPixel(img []uint8, offset int, alpha float64, out []uint8) {
	r := float64(img[offset])
	g := float64(img[offset+1])
	b := float64(img[offset+2])
	a := float64(img[offset+3])

	v := blend(rgb2y(r, g, b), alpha*a/255)
	v = math.Max(0, math.Min(255, v))

	gray := uint8(v)
	out[offset] = gray
	out[offset+1] = gray
	out[offset+2] = gray
	out[offset+3] = 255
}
