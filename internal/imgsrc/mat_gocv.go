//go:build gocv

package imgsrc

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// MatLibrary is an OpenCV backend. Handles wrap gocv.Mat values and are
// closed on Release.
type MatLibrary struct {
	live atomic.Int64
}

// NewMatLibrary creates the OpenCV backend.
func NewMatLibrary() (Library, error) {
	return &MatLibrary{}, nil
}

func (l *MatLibrary) Name() string { return BackendOpenCV }

func (l *MatLibrary) Live() int64 { return l.live.Load() }

type matImage struct {
	lib      *MatLibrary
	mat      gocv.Mat
	released atomic.Bool
}

func (m *matImage) Bounds() image.Rectangle {
	if m.released.Load() {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, m.mat.Cols(), m.mat.Rows())
}

func (m *matImage) ToImage() (image.Image, error) {
	if m.released.Load() {
		return nil, ErrReleased
	}
	return m.mat.ToImage()
}

func (m *matImage) Release() error {
	if !m.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	m.lib.live.Add(-1)
	return m.mat.Close()
}

func (l *MatLibrary) wrap(mat gocv.Mat) (*matImage, error) {
	if mat.Empty() {
		_ = mat.Close()
		return nil, errors.New("empty matrix")
	}
	l.live.Add(1)
	return &matImage{lib: l, mat: mat}, nil
}

func (l *MatLibrary) unwrap(img Image) (*matImage, error) {
	mi, ok := img.(*matImage)
	if !ok {
		return nil, fmt.Errorf("opencv library cannot use %T", img)
	}
	if mi.released.Load() {
		return nil, ErrReleased
	}
	return mi, nil
}

// Decode decodes encoded bytes into a BGR matrix.
func (l *MatLibrary) Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return l.wrap(mat)
}

// FromImage converts img into a BGR matrix.
func (l *MatLibrary) FromImage(img image.Image) (Image, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	return l.wrap(mat)
}

// Crop clones the region r into a new matrix.
func (l *MatLibrary) Crop(img Image, r image.Rectangle) (Image, error) {
	mi, err := l.unwrap(img)
	if err != nil {
		return nil, err
	}
	abs, err := cropRect(mi.Bounds(), r)
	if err != nil {
		return nil, err
	}
	region := mi.mat.Region(abs)
	defer func() { _ = region.Close() }()
	return l.wrap(region.Clone())
}

// Resize scales with area interpolation.
func (l *MatLibrary) Resize(img Image, width, height int) (Image, error) {
	mi, err := l.unwrap(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", width, height)
	}
	dst := gocv.NewMat()
	gocv.Resize(mi.mat, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	return l.wrap(dst)
}

// Grayscale converts to a single channel matrix.
func (l *MatLibrary) Grayscale(img Image) (Image, error) {
	mi, err := l.unwrap(img)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	if mi.mat.Channels() == 1 {
		mi.mat.CopyTo(&dst)
	} else {
		gocv.CvtColor(mi.mat, &dst, gocv.ColorBGRToGray)
	}
	return l.wrap(dst)
}
