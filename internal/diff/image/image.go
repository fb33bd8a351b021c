package image

import (
	"errors"
	"image"
)

// ErrDimensionMismatch is returned when the two images do not share width and height.
var ErrDimensionMismatch = errors.New("image dimensions do not match")

type DiffResult struct {
	// Image is nil when DiffPixels is 0.
	Image       *image.NRGBA
	DiffPixels  int
	TotalPixels int
	Regions     []Rectangle
}

// DiffAmount is the fraction of pixels counted as different.
func (r *DiffResult) DiffAmount() float64 {
	if r.TotalPixels == 0 {
		return 0.0
	}
	return float64(r.DiffPixels) / float64(r.TotalPixels)
}

type Differ interface {
	Calculate(reference image.Image, captured image.Image) (*DiffResult, error)
}
