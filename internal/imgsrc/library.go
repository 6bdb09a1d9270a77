package imgsrc

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
)

var (
	// ErrReleased is returned when a handle is used or released after Release.
	ErrReleased = errors.New("imgsrc: image already released")
	// ErrNoBackend is returned when the requested backend was not compiled in.
	ErrNoBackend = errors.New("imgsrc: opencv backend not linked; build with -tags=gocv")
)

// Backend names accepted by NewLibrary.
const (
	BackendRaster = "raster"
	BackendOpenCV = "opencv"
)

// Image is an owned native image handle. Release must be called exactly once.
type Image interface {
	Bounds() image.Rectangle
	// ToImage exposes the pixels. The result is only valid until Release.
	ToImage() (image.Image, error)
	Release() error
}

// Library creates and transforms native images. Every returned Image is
// owned by the caller.
type Library interface {
	Name() string
	Decode(data []byte) (Image, error)
	FromImage(img image.Image) (Image, error)
	Crop(img Image, r image.Rectangle) (Image, error)
	Resize(img Image, width, height int) (Image, error)
	Grayscale(img Image) (Image, error)
	// Live reports handles created by this library and not yet released.
	Live() int64
}

// NewLibrary returns the backend with the given name. An empty name selects
// the raster backend.
func NewLibrary(name string) (Library, error) {
	switch strings.ToLower(name) {
	case "", BackendRaster:
		return NewRasterLibrary(), nil
	case BackendOpenCV, "gocv":
		return NewMatLibrary()
	default:
		return nil, fmt.Errorf("unknown image backend %q", name)
	}
}

// Normalize turns src into a native image. When owned is true the caller
// must release img; a Matrix source is passed through and stays with its owner.
func Normalize(lib Library, src Source) (img Image, owned bool, err error) {
	if m, ok := src.(Matrix); ok {
		if m.Image == nil {
			return nil, false, errdefs.Preprocess("normalize", errors.New("nil native image"))
		}
		if b := m.Image.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
			return nil, false, errdefs.Preprocess("normalize", fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
		}
		return m.Image, false, nil
	}

	std, err := ToImage(src)
	if err != nil {
		return nil, false, err
	}
	img, err = lib.FromImage(std)
	if err != nil {
		return nil, false, errdefs.Preprocess("normalize", err)
	}
	return img, true, nil
}

// cropRect validates r against bounds and returns it translated to absolute coordinates.
func cropRect(bounds, r image.Rectangle) (image.Rectangle, error) {
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("empty crop rectangle %v", r)
	}
	abs := r.Add(bounds.Min)
	if !abs.In(bounds) {
		return image.Rectangle{}, fmt.Errorf("crop rectangle %v outside image %v", r, bounds)
	}
	return abs, nil
}
