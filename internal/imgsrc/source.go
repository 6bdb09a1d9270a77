// Package imgsrc normalises the frame representations a caller can hand to
// the pipeline and provides the native image library used for crops.
package imgsrc

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
)

// PixelFormat describes the channel layout of a raw pixel buffer.
type PixelFormat int

const (
	FormatRGBA PixelFormat = iota
	FormatRGB
	FormatBGR
	FormatGray
)

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA:
		return "rgba"
	case FormatRGB:
		return "rgb"
	case FormatBGR:
		return "bgr"
	case FormatGray:
		return "gray"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Channels returns bytes per pixel, or 0 for unknown formats.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatRGBA:
		return 4
	case FormatRGB, FormatBGR:
		return 3
	case FormatGray:
		return 1
	default:
		return 0
	}
}

// Source is one of PixelBuffer, Bitmap, Canvas or Matrix.
type Source interface {
	isSource()
}

// PixelBuffer is a tightly packed raw pixel buffer.
type PixelBuffer struct {
	Pix    []byte
	Width  int
	Height int
	Format PixelFormat
}

// Bitmap is an already decoded image.
type Bitmap struct {
	Image image.Image
}

// Canvas is a drawing surface owned by the caller.
type Canvas struct {
	Surface draw.Image
}

// Matrix is a native image library handle. The caller keeps ownership.
type Matrix struct {
	Image Image
}

func (PixelBuffer) isSource() {}
func (Bitmap) isSource()      {}
func (Canvas) isSource()      {}
func (Matrix) isSource()      {}

const opExtract = "extract"

// ToImage extracts the pixels of src as an image.Image. PixelBuffer data is
// wrapped without copying where the layout allows it.
func ToImage(src Source) (image.Image, error) {
	var img image.Image
	switch s := src.(type) {
	case nil:
		return nil, errdefs.Preprocess(opExtract, errors.New("nil source"))
	case PixelBuffer:
		var err error
		if img, err = s.image(); err != nil {
			return nil, errdefs.Preprocess(opExtract, err)
		}
	case *PixelBuffer:
		if s == nil {
			return nil, errdefs.Preprocess(opExtract, errors.New("nil pixel buffer"))
		}
		return ToImage(*s)
	case Bitmap:
		img = s.Image
	case Canvas:
		if s.Surface != nil {
			img = s.Surface
		}
	case Matrix:
		if s.Image == nil {
			return nil, errdefs.Preprocess(opExtract, errors.New("nil native image"))
		}
		var err error
		if img, err = s.Image.ToImage(); err != nil {
			return nil, errdefs.Preprocess(opExtract, err)
		}
	default:
		return nil, errdefs.Preprocess(opExtract, fmt.Errorf("unsupported source %T", src))
	}

	if img == nil {
		return nil, errdefs.Preprocess(opExtract, fmt.Errorf("%T carries no image", src))
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errdefs.Preprocess(opExtract, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
	}
	return img, nil
}

func (p PixelBuffer) image() (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", p.Width, p.Height)
	}
	ch := p.Format.Channels()
	if ch == 0 {
		return nil, fmt.Errorf("unsupported pixel format %v", p.Format)
	}
	if want := p.Width * p.Height * ch; len(p.Pix) != want {
		return nil, fmt.Errorf("%v buffer has %d bytes, want %d", p.Format, len(p.Pix), want)
	}

	rect := image.Rect(0, 0, p.Width, p.Height)
	switch p.Format {
	case FormatRGBA:
		return &image.RGBA{Pix: p.Pix, Stride: 4 * p.Width, Rect: rect}, nil
	case FormatGray:
		return &image.Gray{Pix: p.Pix, Stride: p.Width, Rect: rect}, nil
	}

	// RGB and BGR need repacking into four channels.
	out := image.NewNRGBA(rect)
	rOff, bOff := 0, 2
	if p.Format == FormatBGR {
		rOff, bOff = 2, 0
	}
	for i, j := 0, 0; i < len(p.Pix); i, j = i+3, j+4 {
		out.Pix[j] = p.Pix[i+rOff]
		out.Pix[j+1] = p.Pix[i+1]
		out.Pix[j+2] = p.Pix[i+bOff]
		out.Pix[j+3] = 0xFF
	}
	return out, nil
}
