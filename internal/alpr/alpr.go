// Package alpr runs plate detection and recognition on single frames.
package alpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/detector"
	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/geometry"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/recognizer"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Detector finds plates in a native frame. Image work goes through lib.
type Detector interface {
	DetectFrame(ctx context.Context, lib imgsrc.Library, frame imgsrc.Image) ([]detector.Detection, error)
	Close() error
}

// Recognizer reads the text of one native plate crop.
type Recognizer interface {
	RecognizeCrop(ctx context.Context, lib imgsrc.Library, crop imgsrc.Image) (recognizer.Recognition, error)
	Close() error
}

type warmer interface {
	Warmup(ctx context.Context, iterations int) error
}

// PlateResult pairs a detection with its recognition. Recognition is nil when
// the crop was degenerate or the recognizer failed.
type PlateResult struct {
	Detection   detector.Detection      `json:"detection"`
	Recognition *recognizer.Recognition `json:"recognition,omitempty"`
}

// Options wires the orchestrator to its capabilities.
type Options struct {
	NewDetector      func(ctx context.Context) (Detector, error)
	NewRecognizer    func(ctx context.Context) (Recognizer, error)
	Library          imgsrc.Library // nil selects the raster library
	Logger           *slog.Logger   // nil selects slog.Default()
	WarmupIterations int
}

// Stats counts orchestrator activity since construction.
type Stats struct {
	Frames              int64 `json:"frames"`
	FrameFailures       int64 `json:"frame_failures"`
	Detections          int64 `json:"detections"`
	Recognized          int64 `json:"recognized"`
	RecognitionFailures int64 `json:"recognition_failures"`
	DegenerateCrops     int64 `json:"degenerate_crops"`
}

// Orchestrator owns one detector and one recognizer and turns frames into
// plate results. Predict calls must not overlap; the pipeline manager
// guarantees a single caller.
type Orchestrator struct {
	opts   Options
	lib    imgsrc.Library
	logger *slog.Logger
	state  atomic.Int32

	det Detector
	rec Recognizer

	frames          atomic.Int64
	frameFailures   atomic.Int64
	detections      atomic.Int64
	recognized      atomic.Int64
	recFailures     atomic.Int64
	degenerateCrops atomic.Int64
}

// New returns an uninitialized orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.NewDetector == nil || opts.NewRecognizer == nil {
		return nil, errors.New("detector and recognizer factories are required")
	}
	lib := opts.Library
	if lib == nil {
		lib = imgsrc.NewRasterLibrary()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, lib: lib, logger: logger}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Library returns the native image library frames are normalised with.
func (o *Orchestrator) Library() imgsrc.Library { return o.lib }

// Init loads both capabilities. The orchestrator becomes Ready only when both
// load; on failure anything already loaded is closed, the state returns to
// Uninitialized and the first error is returned.
func (o *Orchestrator) Init(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return errdefs.InvalidState("init", o.State().String())
	}
	start := time.Now()

	det, err := o.opts.NewDetector(ctx)
	if err != nil {
		o.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return fmt.Errorf("init detector: %w", err)
	}
	rec, err := o.opts.NewRecognizer(ctx)
	if err != nil {
		o.closeQuietly("detector", det)
		o.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return fmt.Errorf("init recognizer: %w", err)
	}

	if n := o.opts.WarmupIterations; n > 0 {
		if err := warmup(ctx, n, det, rec); err != nil {
			o.closeQuietly("detector", det)
			o.closeQuietly("recognizer", rec)
			o.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
			return err
		}
	}

	o.det, o.rec = det, rec
	if !o.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		// Closed while loading.
		o.closeQuietly("detector", det)
		o.closeQuietly("recognizer", rec)
		return errdefs.InvalidState("init", o.State().String())
	}
	o.logger.Info("ALPR engines ready",
		"backend", o.lib.Name(),
		"warmup_iterations", o.opts.WarmupIterations,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func warmup(ctx context.Context, n int, caps ...any) error {
	for _, c := range caps {
		if w, ok := c.(warmer); ok {
			if err := w.Warmup(ctx, n); err != nil {
				return fmt.Errorf("warmup: %w", err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) closeQuietly(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		o.logger.Warn("Failed to close engine", "engine", name, "error", err)
	}
}

// Close releases both engines. Afterwards the orchestrator is unusable.
func (o *Orchestrator) Close() error {
	prev := State(o.state.Swap(int32(StateClosed)))
	if prev != StateReady {
		return nil
	}
	var errs []error
	if err := o.det.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	if err := o.rec.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recognizer: %w", err))
	}
	return errors.Join(errs...)
}

// Predict detects plates in src and reads each one. Detector order is kept.
// Per-plate recognizer failures and degenerate crops yield a nil Recognition.
// A frame that cannot be preprocessed or detected returns an empty result
// together with the error.
func (o *Orchestrator) Predict(ctx context.Context, src imgsrc.Source) ([]PlateResult, error) {
	if s := o.State(); s != StateReady {
		return nil, errdefs.InvalidState("predict", s.String())
	}
	o.frames.Add(1)
	start := time.Now()

	var sc scope
	defer sc.release(o.logger)

	frame, owned, err := imgsrc.Normalize(o.lib, src)
	if err != nil {
		return o.frameFailure(err)
	}
	if owned {
		sc.add(frame)
	}

	dets, err := o.det.DetectFrame(ctx, o.lib, frame)
	if err != nil {
		return o.frameFailure(err)
	}
	o.detections.Add(int64(len(dets)))

	bounds := frame.Bounds()
	results := make([]PlateResult, 0, len(dets))
	for _, d := range dets {
		res := PlateResult{Detection: d}
		clamped := d.Box.Clamp(bounds.Dx(), bounds.Dy())
		if clamped.IsDegenerate() {
			o.degenerateCrops.Add(1)
			o.logger.Debug("Skipping recognition for degenerate crop",
				"box", d.Box.String(),
				"frame", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()))
			results = append(results, res)
			continue
		}
		res.Recognition = o.recognize(ctx, &sc, frame, clamped)
		results = append(results, res)
	}

	o.logger.Debug("Frame processed",
		"plates", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// PredictOrEmpty is Predict for callers that only want results: any error
// is logged and yields an empty list.
func (o *Orchestrator) PredictOrEmpty(ctx context.Context, src imgsrc.Source) []PlateResult {
	res, err := o.Predict(ctx, src)
	if err != nil {
		o.logger.Debug("Predict degraded to empty result", "error", err)
		return []PlateResult{}
	}
	return res
}

// recognize reads one clamped crop. Any failure, including a panic in the
// recognizer, yields nil and leaves the other plates of the frame untouched.
func (o *Orchestrator) recognize(ctx context.Context, sc *scope, frame imgsrc.Image,
	box geometry.BoundingBox,
) (res *recognizer.Recognition) {
	defer func() {
		if r := recover(); r != nil {
			o.recognitionFailure(box, fmt.Errorf("recognizer panic: %v", r))
			res = nil
		}
	}()

	crop, err := o.lib.Crop(frame, box.Rect())
	if err != nil {
		o.recognitionFailure(box, err)
		return nil
	}
	sc.add(crop)

	rec, err := o.rec.RecognizeCrop(ctx, o.lib, crop)
	if err != nil {
		o.recognitionFailure(box, err)
		return nil
	}
	o.recognized.Add(1)
	return &rec
}

func (o *Orchestrator) recognitionFailure(box geometry.BoundingBox, err error) {
	o.recFailures.Add(1)
	o.logger.Warn("Plate recognition failed", "box", box.String(), "error", err)
}

func (o *Orchestrator) frameFailure(err error) ([]PlateResult, error) {
	o.frameFailures.Add(1)
	o.logger.Error("Frame prediction failed", "error", err)
	return []PlateResult{}, err
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Frames:              o.frames.Load(),
		FrameFailures:       o.frameFailures.Load(),
		Detections:          o.detections.Load(),
		Recognized:          o.recognized.Load(),
		RecognitionFailures: o.recFailures.Load(),
		DegenerateCrops:     o.degenerateCrops.Load(),
	}
}

// Info describes the loaded engines for status endpoints.
func (o *Orchestrator) Info() map[string]interface{} {
	info := map[string]interface{}{
		"state":         o.State().String(),
		"image_backend": o.lib.Name(),
	}
	if o.State() != StateReady {
		return info
	}
	if d, ok := o.det.(*detector.Detector); ok {
		cfg := d.GetConfig()
		info["detector"] = map[string]interface{}{
			"model_path":      cfg.ModelPath,
			"input_shape":     d.InputShape(),
			"score_threshold": cfg.ScoreThreshold,
			"labels":          cfg.Labels,
		}
	}
	if r, ok := o.rec.(*recognizer.Recognizer); ok {
		cfg := r.GetConfig()
		info["recognizer"] = map[string]interface{}{
			"model_path":  cfg.ModelPath,
			"input_shape": r.InputShape(),
			"max_slots":   cfg.MaxSlots,
			"alphabet":    r.Alphabet().String(),
			"grayscale":   cfg.Grayscale,
		}
	}
	return info
}
