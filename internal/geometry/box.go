// Package geometry provides the integer bounding box used throughout the pipeline.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox is an axis-aligned box in pixel coordinates.
// X2 and Y2 are exclusive, so Width is X2-X1.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// MaxCoordinate bounds the magnitude of coordinates NewBoundingBox accepts.
const MaxCoordinate = 1 << 30

// NewBoundingBox rounds float coordinates to the nearest pixel.
// ok is false when the rounded box has no area or a coordinate is not
// finite or exceeds MaxCoordinate in magnitude.
func NewBoundingBox(x1, y1, x2, y2 float64) (BoundingBox, bool) {
	for _, v := range [...]float64{x1, y1, x2, y2} {
		if math.IsNaN(v) || math.Abs(v) > MaxCoordinate {
			return BoundingBox{}, false
		}
	}
	b := BoundingBox{
		X1: int(math.Round(x1)),
		Y1: int(math.Round(y1)),
		X2: int(math.Round(x2)),
		Y2: int(math.Round(y2)),
	}
	return b, !b.IsDegenerate()
}

// FromRect converts an image.Rectangle.
func FromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b BoundingBox) Width() int  { return b.X2 - b.X1 }
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Area is zero for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.IsDegenerate() {
		return 0
	}
	return b.Width() * b.Height()
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// IsDegenerate reports whether the box has zero or negative extent.
func (b BoundingBox) IsDegenerate() bool {
	return b.X1 >= b.X2 || b.Y1 >= b.Y2
}

// Intersection returns the overlap of two boxes and whether it is non-empty.
func (b BoundingBox) Intersection(o BoundingBox) (BoundingBox, bool) {
	in := BoundingBox{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}
	if in.IsDegenerate() {
		return BoundingBox{}, false
	}
	return in, true
}

// IoU computes intersection over union. Boxes without area yield 0.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	in, ok := b.Intersection(o)
	if !ok {
		return 0
	}
	inter := in.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Clamp limits the box to [0,maxW]x[0,maxH]. The result may be degenerate
// when the box lies entirely outside the frame.
func (b BoundingBox) Clamp(maxW, maxH int) BoundingBox {
	return BoundingBox{
		X1: clampInt(b.X1, 0, maxW),
		Y1: clampInt(b.Y1, 0, maxH),
		X2: clampInt(b.X2, 0, maxW),
		Y2: clampInt(b.Y2, 0, maxH),
	}
}

// IsValid reports whether the box has area and lies inside a frame of the given size.
func (b BoundingBox) IsValid(frameW, frameH int) bool {
	if b.IsDegenerate() {
		return false
	}
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= frameW && b.Y2 <= frameH
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
