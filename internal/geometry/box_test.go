package geometry

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBoundingBox_Rounds(t *testing.T) {
	b, ok := NewBoundingBox(10.4, 20.5, 99.6, 40.49)
	assert.True(t, ok)
	assert.Equal(t, BoundingBox{X1: 10, Y1: 21, X2: 100, Y2: 40}, b)

	_, ok = NewBoundingBox(5.2, 5, 5.4, 9)
	assert.False(t, ok, "zero width after rounding")
}

func TestNewBoundingBox_RejectsNonFinite(t *testing.T) {
	for name, c := range map[string][4]float64{
		"nan x1":   {math.NaN(), 10, 50, 20},
		"nan y2":   {0, 10, 50, math.NaN()},
		"+inf x2":  {0, 10, math.Inf(1), 20},
		"-inf y1":  {0, math.Inf(-1), 50, 20},
		"too wide": {-2 * MaxCoordinate, 10, 50, 20},
	} {
		b, ok := NewBoundingBox(c[0], c[1], c[2], c[3])
		assert.False(t, ok, name)
		assert.Zero(t, b.Area(), name)
	}
}

func TestBoundingBox_Dimensions(t *testing.T) {
	b := BoundingBox{X1: 10, Y1: 20, X2: 50, Y2: 30}
	assert.Equal(t, 40, b.Width())
	assert.Equal(t, 10, b.Height())
	assert.Equal(t, 400, b.Area())
	cx, cy := b.Center()
	assert.InDelta(t, 30.0, cx, 1e-9)
	assert.InDelta(t, 25.0, cy, 1e-9)
	assert.Equal(t, image.Rect(10, 20, 50, 30), b.Rect())
	assert.Equal(t, b, FromRect(b.Rect()))
}

func TestBoundingBox_DegenerateArea(t *testing.T) {
	assert.Equal(t, 0, BoundingBox{X1: 5, Y1: 5, X2: 5, Y2: 10}.Area())
	assert.Equal(t, 0, BoundingBox{X1: 9, Y1: 5, X2: 5, Y2: 10}.Area())
}

func TestBoundingBox_IntersectionAndIoU(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BoundingBox{X1: 5, Y1: 5, X2: 15, Y2: 15}

	in, ok := a.Intersection(b)
	assert.True(t, ok)
	assert.Equal(t, BoundingBox{X1: 5, Y1: 5, X2: 10, Y2: 10}, in)
	assert.InDelta(t, 25.0/175.0, a.IoU(b), 1e-9)
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)

	far := BoundingBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	_, ok = a.Intersection(far)
	assert.False(t, ok)
	assert.InDelta(t, 0.0, a.IoU(far), 1e-9)

	touching := BoundingBox{X1: 10, Y1: 0, X2: 20, Y2: 10}
	_, ok = a.Intersection(touching)
	assert.False(t, ok, "shared edge has no area")
}

func TestBoundingBox_Clamp(t *testing.T) {
	tests := []struct {
		name       string
		in         BoundingBox
		want       BoundingBox
		degenerate bool
	}{
		{"inside", BoundingBox{10, 10, 20, 20}, BoundingBox{10, 10, 20, 20}, false},
		{"overhang", BoundingBox{-5, -3, 120, 90}, BoundingBox{0, 0, 100, 80}, false},
		{"right of frame", BoundingBox{110, 10, 150, 20}, BoundingBox{100, 10, 100, 20}, true},
		{"above frame", BoundingBox{10, -40, 20, -10}, BoundingBox{10, 0, 20, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamp(100, 80)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.degenerate, got.IsDegenerate())
			if !tt.degenerate {
				assert.True(t, got.IsValid(100, 80))
			}
		})
	}
}

func TestBoundingBox_IsValid(t *testing.T) {
	assert.True(t, BoundingBox{0, 0, 100, 80}.IsValid(100, 80))
	assert.False(t, BoundingBox{0, 0, 101, 80}.IsValid(100, 80))
	assert.False(t, BoundingBox{-1, 0, 10, 10}.IsValid(100, 80))
	assert.False(t, BoundingBox{10, 10, 10, 20}.IsValid(100, 80))
}
