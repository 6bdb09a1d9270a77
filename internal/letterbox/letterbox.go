// Package letterbox resizes frames into a fixed model input while keeping
// aspect ratio, and records the transform needed to map model coordinates
// back onto the source frame.
package letterbox

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/onnx"
	"github.com/disintegration/imaging"
)

const op = "letterbox"

// Options controls the letterbox target.
type Options struct {
	TargetWidth  int
	TargetHeight int
	PadColor     color.Color // nil means black
	AllowUpscale bool
	Grayscale    bool   // emit one luminance channel instead of RGB
	Filter       string // resampling filter name, see Filters; empty means linear
}

// Filters maps accepted filter names to imaging resample filters.
var Filters = map[string]imaging.ResampleFilter{
	"nearest": imaging.NearestNeighbor,
	"box":     imaging.Box,
	"linear":  imaging.Linear,
	"catmull": imaging.CatmullRom,
	"lanczos": imaging.Lanczos,
}

// Transform maps between source and letterbox coordinates.
type Transform struct {
	Scale        float64
	PadX         float64
	PadY         float64
	SourceWidth  int
	SourceHeight int
}

// ToSource maps a letterbox point back into the source frame.
func (t Transform) ToSource(x, y float64) (float64, float64) {
	return (x - t.PadX) / t.Scale, (y - t.PadY) / t.Scale
}

// ToLetterbox maps a source point into letterbox coordinates.
func (t Transform) ToLetterbox(x, y float64) (float64, float64) {
	return x*t.Scale + t.PadX, y*t.Scale + t.PadY
}

// Plan computes the scale, resized size and padding without touching pixels.
func Plan(srcW, srcH int, opts Options) (Transform, int, int, error) {
	if srcW <= 0 || srcH <= 0 {
		return Transform{}, 0, 0, errdefs.Preprocess(op, fmt.Errorf("empty source %dx%d", srcW, srcH))
	}
	if opts.TargetWidth <= 0 || opts.TargetHeight <= 0 {
		return Transform{}, 0, 0, errdefs.Preprocess(op,
			fmt.Errorf("invalid target %dx%d", opts.TargetWidth, opts.TargetHeight))
	}

	scale := math.Min(float64(opts.TargetHeight)/float64(srcH), float64(opts.TargetWidth)/float64(srcW))
	if !opts.AllowUpscale {
		scale = math.Min(scale, 1)
	}

	rw := clampDim(int(math.Round(float64(srcW)*scale)), opts.TargetWidth)
	rh := clampDim(int(math.Round(float64(srcH)*scale)), opts.TargetHeight)

	// Pads are the whole-pixel offsets the resized image is drawn at; odd
	// leftovers go to the right and bottom border.
	return Transform{
		Scale:        scale,
		PadX:         float64((opts.TargetWidth - rw) / 2),
		PadY:         float64((opts.TargetHeight - rh) / 2),
		SourceWidth:  srcW,
		SourceHeight: srcH,
	}, rw, rh, nil
}

func clampDim(v, limit int) int {
	return max(1, min(v, limit))
}

// Letterbox renders img into a pooled NCHW tensor. The caller must Release
// the tensor once inference has consumed it.
func Letterbox(img image.Image, opts Options) (onnx.Tensor, Transform, error) {
	if img == nil {
		return onnx.Tensor{}, Transform{}, errdefs.Preprocess(op, errors.New("nil image"))
	}
	b := img.Bounds()
	t, rw, rh, err := Plan(b.Dx(), b.Dy(), opts)
	if err != nil {
		return onnx.Tensor{}, Transform{}, err
	}

	filter, ok := Filters[opts.Filter]
	if !ok {
		filter = imaging.Linear
	}
	var resized image.Image = img
	if rw != b.Dx() || rh != b.Dy() {
		resized = imaging.Resize(img, rw, rh, filter)
	}
	return render(resized, t, opts)
}

// LetterboxNative is Letterbox for native images: the resize and, on the
// grayscale path, the colour conversion run in lib. Resampling uses the
// library's own filter, so opts.Filter is ignored. img stays with the caller;
// intermediates are released before returning.
func LetterboxNative(lib imgsrc.Library, img imgsrc.Image, opts Options) (onnx.Tensor, Transform, error) {
	if lib == nil || img == nil {
		return onnx.Tensor{}, Transform{}, errdefs.Preprocess(op, errors.New("nil native image or library"))
	}
	b := img.Bounds()
	t, rw, rh, err := Plan(b.Dx(), b.Dy(), opts)
	if err != nil {
		return onnx.Tensor{}, Transform{}, err
	}

	var owned []imgsrc.Image
	defer func() {
		for i := len(owned) - 1; i >= 0; i-- {
			if err := owned[i].Release(); err != nil {
				slog.Warn("Failed to release letterbox intermediate", "backend", lib.Name(), "error", err)
			}
		}
	}()

	cur := img
	if rw != b.Dx() || rh != b.Dy() {
		resized, err := lib.Resize(cur, rw, rh)
		if err != nil {
			return onnx.Tensor{}, Transform{}, errdefs.Preprocess(op, fmt.Errorf("resize: %w", err))
		}
		owned = append(owned, resized)
		cur = resized
	}
	if opts.Grayscale {
		gray, err := lib.Grayscale(cur)
		if err != nil {
			return onnx.Tensor{}, Transform{}, errdefs.Preprocess(op, fmt.Errorf("grayscale: %w", err))
		}
		owned = append(owned, gray)
		cur = gray
	}

	pix, err := cur.ToImage()
	if err != nil {
		return onnx.Tensor{}, Transform{}, errdefs.Preprocess(op, err)
	}
	return render(pix, t, opts)
}

// render pastes the resized image onto the padded canvas and fills the tensor.
func render(resized image.Image, t Transform, opts Options) (onnx.Tensor, Transform, error) {
	pad := opts.PadColor
	if pad == nil {
		pad = color.Black
	}
	canvas := imaging.New(opts.TargetWidth, opts.TargetHeight, pad)
	rb := resized.Bounds()
	offset := image.Pt(int(t.PadX), int(t.PadY))
	draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(rb.Size())}, resized, rb.Min, draw.Src)

	channels := 3
	if opts.Grayscale {
		channels = 1
	}
	tensor, err := onnx.NewPooledImageTensor(channels, opts.TargetHeight, opts.TargetWidth)
	if err != nil {
		return onnx.Tensor{}, Transform{}, errdefs.Preprocess(op, err)
	}
	fillTensor(tensor.Data, canvas, opts.Grayscale)
	return tensor, t, nil
}

// LetterboxSource extracts src and letterboxes it.
func LetterboxSource(src imgsrc.Source, opts Options) (onnx.Tensor, Transform, error) {
	img, err := imgsrc.ToImage(src)
	if err != nil {
		return onnx.Tensor{}, Transform{}, err
	}
	return Letterbox(img, opts)
}

// fillTensor writes planar channels scaled to [0,1]. Gray uses BT.601 luma.
func fillTensor(dst []float32, canvas *image.NRGBA, gray bool) {
	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	plane := w * h
	for y := range h {
		row := canvas.Pix[y*canvas.Stride:]
		for x := range w {
			r := float32(row[4*x])
			g := float32(row[4*x+1])
			b := float32(row[4*x+2])
			i := y*w + x
			if gray {
				dst[i] = (0.299*r + 0.587*g + 0.114*b) / 255
				continue
			}
			dst[i] = r / 255
			dst[plane+i] = g / 255
			dst[2*plane+i] = b / 255
		}
	}
}
