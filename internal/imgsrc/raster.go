package imgsrc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"

	"github.com/MeKo-Tech/platewatch/internal/mempool"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// RasterLibrary is a pure Go backend. Decoded frames and crops live in
// pooled pixel buffers that return to the pool on Release.
type RasterLibrary struct {
	live atomic.Int64
}

// NewRasterLibrary creates a raster backend.
func NewRasterLibrary() *RasterLibrary {
	return &RasterLibrary{}
}

func (l *RasterLibrary) Name() string { return BackendRaster }

// Live reports unreleased handles.
func (l *RasterLibrary) Live() int64 { return l.live.Load() }

type rasterImage struct {
	lib      *RasterLibrary
	img      *image.NRGBA
	pooled   bool
	released atomic.Bool
}

func (r *rasterImage) Bounds() image.Rectangle {
	if r.released.Load() {
		return image.Rectangle{}
	}
	return r.img.Bounds()
}

func (r *rasterImage) ToImage() (image.Image, error) {
	if r.released.Load() {
		return nil, ErrReleased
	}
	return r.img, nil
}

func (r *rasterImage) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	if r.pooled {
		mempool.PutBytes(r.img.Pix)
	}
	r.img = nil
	r.lib.live.Add(-1)
	return nil
}

// newPooled allocates a w x h NRGBA image backed by a pooled buffer.
func (l *RasterLibrary) newPooled(w, h int) *rasterImage {
	img := &image.NRGBA{
		Pix:    mempool.GetBytes(4 * w * h),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	l.live.Add(1)
	return &rasterImage{lib: l, img: img, pooled: true}
}

func (l *RasterLibrary) adopt(img *image.NRGBA) *rasterImage {
	l.live.Add(1)
	return &rasterImage{lib: l, img: img}
}

// copyFrom draws src into a pooled image of the same size.
func (l *RasterLibrary) copyFrom(src image.Image, r image.Rectangle) *rasterImage {
	dst := l.newPooled(r.Dx(), r.Dy())
	draw.Draw(dst.img, dst.img.Bounds(), src, r.Min, draw.Src)
	return dst
}

// Decode decodes JPEG, PNG, BMP or WebP bytes.
func (l *RasterLibrary) Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return l.FromImage(src)
}

// FromImage copies img into a new handle.
func (l *RasterLibrary) FromImage(img image.Image) (Image, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}
	return l.copyFrom(img, b), nil
}

func (l *RasterLibrary) unwrap(img Image) (*rasterImage, error) {
	ri, ok := img.(*rasterImage)
	if !ok {
		return nil, fmt.Errorf("raster library cannot use %T", img)
	}
	if ri.released.Load() {
		return nil, ErrReleased
	}
	return ri, nil
}

// Crop copies the region r, given relative to the image origin.
func (l *RasterLibrary) Crop(img Image, r image.Rectangle) (Image, error) {
	ri, err := l.unwrap(img)
	if err != nil {
		return nil, err
	}
	abs, err := cropRect(ri.img.Bounds(), r)
	if err != nil {
		return nil, err
	}
	return l.copyFrom(ri.img, abs), nil
}

// Resize scales to width x height with a linear filter.
func (l *RasterLibrary) Resize(img Image, width, height int) (Image, error) {
	ri, err := l.unwrap(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", width, height)
	}
	return l.adopt(imaging.Resize(ri.img, width, height, imaging.Linear)), nil
}

// Grayscale returns a desaturated copy.
func (l *RasterLibrary) Grayscale(img Image) (Image, error) {
	ri, err := l.unwrap(img)
	if err != nil {
		return nil, err
	}
	return l.adopt(imaging.Grayscale(ri.img)), nil
}
