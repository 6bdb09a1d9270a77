package alpr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/platewatch/internal/detector"
	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/geometry"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/onnx/mock"
	"github.com/MeKo-Tech/platewatch/internal/recognizer"
	"github.com/MeKo-Tech/platewatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	dets   []detector.Detection
	err    error
	seen   image.Rectangle
	closed atomic.Bool
}

func (f *fakeDetector) DetectFrame(_ context.Context, _ imgsrc.Library, frame imgsrc.Image) ([]detector.Detection, error) {
	f.seen = frame.Bounds()
	return f.dets, f.err
}

func (f *fakeDetector) Close() error { f.closed.Store(true); return nil }

type fakeRecognizer struct {
	fn     func(crop imgsrc.Image) (recognizer.Recognition, error)
	crops  []image.Rectangle
	closed atomic.Bool
}

func (f *fakeRecognizer) RecognizeCrop(_ context.Context, _ imgsrc.Library, crop imgsrc.Image) (recognizer.Recognition, error) {
	f.crops = append(f.crops, crop.Bounds())
	if f.fn == nil {
		return recognizer.Recognition{Text: "AB129", Confidence: 0.9}, nil
	}
	return f.fn(crop)
}

func (f *fakeRecognizer) Close() error { f.closed.Store(true); return nil }

func det(x1, y1, x2, y2 int) detector.Detection {
	return detector.Detection{
		Label:      "License Plate",
		Confidence: 0.8,
		Box:        geometry.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}
}

func newReady(t *testing.T, d *fakeDetector, r *fakeRecognizer, lib imgsrc.Library) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		NewDetector:   func(context.Context) (Detector, error) { return d, nil },
		NewRecognizer: func(context.Context) (Recognizer, error) { return r, nil },
		Library:       lib,
	})
	require.NoError(t, err)
	require.NoError(t, o.Init(context.Background()))
	return o
}

func frame(w, h int) imgsrc.Source {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	return imgsrc.Bitmap{Image: img}
}

func TestOrchestrator_StateMachine(t *testing.T) {
	d, r := &fakeDetector{}, &fakeRecognizer{}
	o, err := New(Options{
		NewDetector:   func(context.Context) (Detector, error) { return d, nil },
		NewRecognizer: func(context.Context) (Recognizer, error) { return r, nil },
	})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, o.State())

	var se *errdefs.InvalidStateError
	_, err = o.Predict(context.Background(), frame(10, 10))
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "uninitialized", se.State)

	require.NoError(t, o.Init(context.Background()))
	assert.Equal(t, StateReady, o.State())

	err = o.Init(context.Background())
	require.ErrorAs(t, err, &se, "init twice")

	require.NoError(t, o.Close())
	assert.Equal(t, StateClosed, o.State())
	assert.True(t, d.closed.Load())
	assert.True(t, r.closed.Load())

	_, err = o.Predict(context.Background(), frame(10, 10))
	require.ErrorAs(t, err, &se)
	require.NoError(t, o.Close(), "second close is a no-op")
}

func TestOrchestrator_InitBothOrNeither(t *testing.T) {
	loadErr := errors.New("model missing")
	d := &fakeDetector{}
	failRecognizer := true

	o, err := New(Options{
		NewDetector: func(context.Context) (Detector, error) { return d, nil },
		NewRecognizer: func(context.Context) (Recognizer, error) {
			if failRecognizer {
				return nil, loadErr
			}
			return &fakeRecognizer{}, nil
		},
	})
	require.NoError(t, err)

	err = o.Init(context.Background())
	require.ErrorIs(t, err, loadErr)
	assert.Equal(t, StateUninitialized, o.State())
	assert.True(t, d.closed.Load(), "detector closed when recognizer fails")

	failRecognizer = false
	d.closed.Store(false)
	require.NoError(t, o.Init(context.Background()), "retry from uninitialized")
	assert.Equal(t, StateReady, o.State())
}

func TestOrchestrator_InitDetectorFailure(t *testing.T) {
	recCalled := false
	o, err := New(Options{
		NewDetector: func(context.Context) (Detector, error) { return nil, errors.New("bad detector") },
		NewRecognizer: func(context.Context) (Recognizer, error) {
			recCalled = true
			return &fakeRecognizer{}, nil
		},
	})
	require.NoError(t, err)
	require.Error(t, o.Init(context.Background()))
	assert.False(t, recCalled)
	assert.Equal(t, StateUninitialized, o.State())
}

func TestNew_RequiresFactories(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestPredict_DegenerateCropPolicy(t *testing.T) {
	lib := imgsrc.NewRasterLibrary()
	d := &fakeDetector{dets: []detector.Detection{
		det(10, 10, 40, 20),   // inside
		det(150, 10, 200, 30), // entirely right of a 100px frame
		det(90, 40, 130, 70),  // straddles the bottom-right corner
	}}
	r := &fakeRecognizer{}
	o := newReady(t, d, r, lib)

	results, err := o.Predict(context.Background(), frame(100, 50))
	require.NoError(t, err)
	require.Len(t, results, 3, "degenerate detections are still reported")

	assert.NotNil(t, results[0].Recognition)
	assert.Nil(t, results[1].Recognition)
	assert.NotNil(t, results[2].Recognition)
	assert.Equal(t, d.dets[1], results[1].Detection, "detection reported unclamped")

	require.Len(t, r.crops, 2)
	assert.Equal(t, image.Rect(0, 0, 30, 10), r.crops[0])
	assert.Equal(t, image.Rect(0, 0, 10, 10), r.crops[1], "crop clamped to the frame")

	assert.Equal(t, int64(0), lib.Live(), "frame and crops released")
	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Frames)
	assert.Equal(t, int64(3), stats.Detections)
	assert.Equal(t, int64(1), stats.DegenerateCrops)
	assert.Equal(t, int64(2), stats.Recognized)
}

func TestPredict_RecognizerFailureIsAbsent(t *testing.T) {
	lib := imgsrc.NewRasterLibrary()
	calls := 0
	r := &fakeRecognizer{fn: func(imgsrc.Image) (recognizer.Recognition, error) {
		calls++
		if calls == 1 {
			return recognizer.Recognition{}, errdefs.Engine("recognizer", errors.New("boom"))
		}
		return recognizer.Recognition{Text: "XY1"}, nil
	}}
	o := newReady(t, &fakeDetector{dets: []detector.Detection{det(0, 0, 10, 10), det(20, 0, 30, 10)}}, r, lib)

	results, err := o.Predict(context.Background(), frame(40, 20))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Recognition)
	require.NotNil(t, results[1].Recognition)
	assert.Equal(t, "XY1", results[1].Recognition.Text)
	assert.Equal(t, int64(1), o.Stats().RecognitionFailures)
	assert.Equal(t, int64(0), lib.Live())
}

func TestPredict_FrameFailures(t *testing.T) {
	lib := imgsrc.NewRasterLibrary()
	detErr := errdefs.Engine("detector", errors.New("corrupt"))
	o := newReady(t, &fakeDetector{err: detErr}, &fakeRecognizer{}, lib)

	results, err := o.Predict(context.Background(), frame(20, 20))
	require.ErrorIs(t, err, detErr)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, int64(0), lib.Live())

	assert.Empty(t, o.PredictOrEmpty(context.Background(), frame(20, 20)))

	_, err = o.Predict(context.Background(), imgsrc.PixelBuffer{Width: 2, Height: 2, Format: imgsrc.FormatRGB})
	var pe *errdefs.PreprocessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(3), o.Stats().FrameFailures)
}

func TestPredict_RecognizerPanicIsPerPlate(t *testing.T) {
	lib := imgsrc.NewRasterLibrary()
	calls := 0
	r := &fakeRecognizer{fn: func(imgsrc.Image) (recognizer.Recognition, error) {
		calls++
		if calls == 1 {
			panic("native crash")
		}
		return recognizer.Recognition{Text: "KA01"}, nil
	}}
	o := newReady(t, &fakeDetector{dets: []detector.Detection{det(0, 0, 10, 10), det(10, 0, 20, 10)}}, r, lib)

	var results []PlateResult
	require.NotPanics(t, func() {
		var err error
		results, err = o.Predict(context.Background(), frame(20, 20))
		require.NoError(t, err)
	})
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Recognition)
	require.NotNil(t, results[1].Recognition)
	assert.Equal(t, "KA01", results[1].Recognition.Text)
	assert.Equal(t, int64(1), o.Stats().RecognitionFailures)
	assert.Equal(t, int64(0), lib.Live())
}

// countingLibrary records which native primitives a Predict call used.
type countingLibrary struct {
	imgsrc.Library
	resizes, grays atomic.Int64
}

func (c *countingLibrary) Resize(img imgsrc.Image, w, h int) (imgsrc.Image, error) {
	c.resizes.Add(1)
	return c.Library.Resize(img, w, h)
}

func (c *countingLibrary) Grayscale(img imgsrc.Image) (imgsrc.Image, error) {
	c.grays.Add(1)
	return c.Library.Grayscale(img)
}

func TestPredict_ImageWorkRunsInLibrary(t *testing.T) {
	detOut := mock.NewDetectionOutput([][]mock.DetRecord{{
		{X1: 100, Y1: 184, X2: 140, Y2: 194, Score: 0.9},
	}})
	d, err := detector.NewWithEngine(detector.DefaultConfig(), testutil.StaticEngine([]int64{1, 3, 384, 384}, detOut))
	require.NoError(t, err)

	alphabet, err := recognizer.NewAlphabet(recognizer.DefaultAlphabet, recognizer.DefaultPadChar)
	require.NoError(t, err)
	recCfg := recognizer.DefaultConfig()
	recCfg.MaxSlots = 6
	recOut := mock.NewSlotProbs([][]int{mock.IndicesFor("AB12_9", alphabet.Symbols())}, alphabet.Size(), 0.9, false)
	r, err := recognizer.NewWithEngine(recCfg, alphabet, testutil.StaticEngine([]int64{1, 1, 64, 128}, recOut))
	require.NoError(t, err)

	raster := imgsrc.NewRasterLibrary()
	lib := &countingLibrary{Library: raster}
	o, err := New(Options{
		NewDetector:   func(context.Context) (Detector, error) { return d, nil },
		NewRecognizer: func(context.Context) (Recognizer, error) { return r, nil },
		Library:       lib,
	})
	require.NoError(t, err)
	require.NoError(t, o.Init(context.Background()))
	defer func() { _ = o.Close() }()

	scene := testutil.CreateTestImage(1920, 1080, color.RGBA{90, 90, 90, 255})
	results, err := o.Predict(context.Background(), imgsrc.Bitmap{Image: scene})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Recognition)
	assert.Equal(t, "AB129", results[0].Recognition.Text)

	assert.Equal(t, int64(2), lib.resizes.Load(), "frame and crop resized natively")
	assert.Equal(t, int64(1), lib.grays.Load(), "crop converted natively")
	assert.Equal(t, int64(0), raster.Live(), "intermediates released")
}

func TestPredict_MatrixSourceStaysWithCaller(t *testing.T) {
	lib := imgsrc.NewRasterLibrary()
	o := newReady(t, &fakeDetector{dets: []detector.Detection{det(0, 0, 10, 10)}}, &fakeRecognizer{}, lib)

	native, err := lib.FromImage(image.NewRGBA(image.Rect(0, 0, 32, 16)))
	require.NoError(t, err)

	_, err = o.Predict(context.Background(), imgsrc.Matrix{Image: native})
	require.NoError(t, err)
	assert.Equal(t, int64(1), lib.Live(), "caller still owns the frame")
	require.NoError(t, native.Release())
	assert.Equal(t, int64(0), lib.Live())
}

func TestPredict_WithDetectorEngine(t *testing.T) {
	// Real detector on a scripted engine: a plate at letterbox (100,184)-(140,194)
	// in a 1920x1080 frame maps to (500,500)-(700,550).
	out := mock.NewDetectionOutput([][]mock.DetRecord{{
		{X1: 100, Y1: 184, X2: 140, Y2: 194, Score: 0.9},
	}})
	cfg := detector.DefaultConfig()
	cfg.ScoreThreshold = 0.5
	d, err := detector.NewWithEngine(cfg, testutil.StaticEngine([]int64{1, 3, 384, 384}, out))
	require.NoError(t, err)

	r := &fakeRecognizer{}
	lib := imgsrc.NewRasterLibrary()
	o, err := New(Options{
		NewDetector:   func(context.Context) (Detector, error) { return d, nil },
		NewRecognizer: func(context.Context) (Recognizer, error) { return r, nil },
		Library:       lib,
	})
	require.NoError(t, err)
	require.NoError(t, o.Init(context.Background()))

	scene := testutil.CreateTestImage(1920, 1080, color.RGBA{90, 90, 90, 255})
	results, err := o.Predict(context.Background(), imgsrc.Bitmap{Image: scene})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, geometry.BoundingBox{X1: 500, Y1: 500, X2: 700, Y2: 550}, results[0].Detection.Box)
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 200, 50)}, r.crops)
	assert.Equal(t, int64(0), lib.Live())

	info := o.Info()
	assert.Equal(t, "ready", info["state"])
	assert.Contains(t, info, "detector")
	require.NoError(t, o.Close())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "state(9)", State(9).String())
}
