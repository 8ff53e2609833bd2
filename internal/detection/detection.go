// Package detection holds the detector output model and the pure functions
// applied to it: response formatting and highlight selection.
package detection

import (
	"image"
	"math"
)

// Box is an axis-aligned bounding box in source image pixels.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns |x2-x1|*|y2-y1|.
func (b Box) Area() float64 {
	return math.Abs((b.X2 - b.X1) * (b.Y2 - b.Y1))
}

// Sorted returns the box with each coordinate pair in ascending order.
func (b Box) Sorted() Box {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Rect converts the box to integer pixel coordinates for drawing. Coordinates
// are sorted, truncated toward zero and clamped to be non-negative.
func (b Box) Rect() image.Rectangle {
	s := b.Sorted()
	return image.Rectangle{
		Min: image.Pt(clampPixel(s.X1), clampPixel(s.Y1)),
		Max: image.Pt(clampPixel(s.X2), clampPixel(s.Y2)),
	}
}

func clampPixel(v float64) int {
	return max(int(v), 0)
}

// Raw is one detector output tuple.
type Raw struct {
	ClassID    int
	Confidence float64
	Box        Box
}
