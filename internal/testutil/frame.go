package testutil

import (
	"errors"
	"image"
	"sync/atomic"
)

// ErrFrameReleased is returned when a TrackedFrame is used after Release.
var ErrFrameReleased = errors.New("tracked frame already released")

// TrackedFrame is a native image handle that counts its releases.
type TrackedFrame struct {
	img      *image.RGBA
	releases atomic.Int32
}

// NewTrackedFrame returns a w x h frame.
func NewTrackedFrame(w, h int) *TrackedFrame {
	return &TrackedFrame{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (f *TrackedFrame) Bounds() image.Rectangle { return f.img.Bounds() }

func (f *TrackedFrame) ToImage() (image.Image, error) {
	if f.releases.Load() > 0 {
		return nil, ErrFrameReleased
	}
	return f.img, nil
}

// Release counts the call; every call after the first returns an error.
func (f *TrackedFrame) Release() error {
	if f.releases.Add(1) > 1 {
		return ErrFrameReleased
	}
	return nil
}

// Releases reports how often Release was called.
func (f *TrackedFrame) Releases() int { return int(f.releases.Load()) }
