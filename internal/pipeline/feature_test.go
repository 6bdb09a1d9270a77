package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/detector"
	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/onnx/mock"
	"github.com/MeKo-Tech/platewatch/internal/recognizer"
	"github.com/MeKo-Tech/platewatch/internal/testutil"
	"github.com/cucumber/godog"
)

const eventWait = 2 * time.Second

// singleFlightFeature drives a real orchestrator on scripted engines. The
// detector engine blocks at a gate so frames can be held in flight.
type singleFlightFeature struct {
	lib      *imgsrc.RasterLibrary
	gate     *testutil.Gate
	plate    string
	mgr      *Manager
	frames   map[uint64]imgsrc.Image
	accepted map[uint64]bool
}

func newSingleFlightFeature() *singleFlightFeature {
	return &singleFlightFeature{
		lib:      imgsrc.NewRasterLibrary(),
		gate:     testutil.NewGate(8),
		frames:   map[uint64]imgsrc.Image{},
		accepted: map[uint64]bool{},
	}
}

func (f *singleFlightFeature) aGatedPipeline() error {
	// A 640x480 frame letterboxes to 384x288 at y offset 48; this plate sits
	// at (200,200)-(360,260) in the frame.
	detOut := mock.NewDetectionOutput([][]mock.DetRecord{{
		{X1: 120, Y1: 168, X2: 216, Y2: 204, Score: 0.9},
	}})
	detEngine := testutil.GatedEngine(testutil.StaticEngine([]int64{1, 3, 384, 384}, detOut), f.gate)

	orch, err := alpr.New(alpr.Options{
		NewDetector: func(context.Context) (alpr.Detector, error) {
			return detector.NewWithEngine(detector.DefaultConfig(), detEngine)
		},
		NewRecognizer: func(context.Context) (alpr.Recognizer, error) {
			alphabet, err := recognizer.NewAlphabet(recognizer.DefaultAlphabet, recognizer.DefaultPadChar)
			if err != nil {
				return nil, err
			}
			cfg := recognizer.DefaultConfig()
			cfg.MaxSlots = len([]rune(f.plate))
			out := mock.NewSlotProbs([][]int{mock.IndicesFor(f.plate, alphabet.Symbols())}, alphabet.Size(), 0.9, false)
			return recognizer.NewWithEngine(cfg, alphabet, testutil.StaticEngine([]int64{1, 1, 64, 128}, out))
		},
		Library: f.lib,
	})
	if err != nil {
		return err
	}

	f.mgr, err = New(orch, DefaultOptions())
	if err != nil {
		return err
	}
	return f.mgr.Start(context.Background())
}

func (f *singleFlightFeature) thePipelineIsInitialized(text string) error {
	f.plate = text
	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	if err := f.mgr.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	ev, err := f.next()
	if err != nil {
		return err
	}
	if _, ok := ev.(InitComplete); !ok {
		return fmt.Errorf("expected InitComplete, got %T", ev)
	}
	return nil
}

func (f *singleFlightFeature) theDetectorGateIsOpen() error {
	f.gate.Release()
	return nil
}

func (f *singleFlightFeature) frameIsSubmitted(id int) error {
	scene := testutil.CreateTestImage(640, 480, color.RGBA{60, 60, 60, 255})
	frame, err := f.lib.FromImage(scene)
	if err != nil {
		return err
	}
	f.frames[uint64(id)] = frame
	f.accepted[uint64(id)] = f.mgr.Submit(FrameTask{ID: uint64(id), Frame: frame})
	return nil
}

func (f *singleFlightFeature) anEmptyFrameIsSubmitted(id int) error {
	f.accepted[uint64(id)] = f.mgr.Submit(FrameTask{ID: uint64(id)})
	return nil
}

func (f *singleFlightFeature) theDetectorHasStarted() error {
	select {
	case <-f.gate.Entered:
		return nil
	case <-time.After(eventWait):
		return errors.New("detector never started")
	}
}

func (f *singleFlightFeature) frameIsAccepted(id int) error {
	if !f.accepted[uint64(id)] {
		return fmt.Errorf("frame %d was rejected", id)
	}
	return nil
}

func (f *singleFlightFeature) frameIsRejected(id int) error {
	if f.accepted[uint64(id)] {
		return fmt.Errorf("frame %d was accepted", id)
	}
	return nil
}

func released(img imgsrc.Image) bool {
	_, err := img.ToImage()
	return errors.Is(err, imgsrc.ErrReleased)
}

func (f *singleFlightFeature) frameHasBeenReleased(id int) error {
	if !released(f.frames[uint64(id)]) {
		return fmt.Errorf("frame %d still held", id)
	}
	return nil
}

func (f *singleFlightFeature) frameHasNotBeenReleased(id int) error {
	if released(f.frames[uint64(id)]) {
		return fmt.Errorf("frame %d released while in flight", id)
	}
	return nil
}

func (f *singleFlightFeature) allFramesHaveBeenReleased() error {
	if n := f.lib.Live(); n != 0 {
		return fmt.Errorf("%d native images still live", n)
	}
	return nil
}

func (f *singleFlightFeature) next() (Event, error) {
	select {
	case ev, ok := <-f.mgr.Events():
		if !ok {
			return nil, errors.New("events closed")
		}
		return ev, nil
	case <-time.After(eventWait):
		return nil, errors.New("timed out waiting for event")
	}
}

func (f *singleFlightFeature) aResultArrives(id int, text string) error {
	ev, err := f.next()
	if err != nil {
		return err
	}
	fp, ok := ev.(FrameProcessed)
	if !ok {
		return fmt.Errorf("expected FrameProcessed, got %T %+v", ev, ev)
	}
	if fp.FrameID != uint64(id) {
		return fmt.Errorf("result for frame %d, want %d", fp.FrameID, id)
	}
	if len(fp.Results) != 1 {
		return fmt.Errorf("expected 1 plate, got %d", len(fp.Results))
	}
	plate := fp.Results[0]
	if want := image.Rect(200, 200, 360, 260); plate.Detection.Box.Rect() != want {
		return fmt.Errorf("box %v, want %v", plate.Detection.Box.Rect(), want)
	}
	if plate.Recognition == nil || plate.Recognition.Text != text {
		return fmt.Errorf("recognition %+v, want %q", plate.Recognition, text)
	}
	return nil
}

func (f *singleFlightFeature) anErrorArrives(id int) error {
	ev, err := f.next()
	if err != nil {
		return err
	}
	ee, ok := ev.(ErrorEvent)
	if !ok {
		return fmt.Errorf("expected ErrorEvent, got %T", ev)
	}
	if ee.FrameID != uint64(id) {
		return fmt.Errorf("error for frame %d, want %d", ee.FrameID, id)
	}
	var pe *errdefs.PreprocessError
	if !errors.As(ee.Err, &pe) {
		return fmt.Errorf("expected a preprocess error, got %v", ee.Err)
	}
	return nil
}

func (f *singleFlightFeature) noFurtherEventsArrive() error {
	select {
	case ev := <-f.mgr.Events():
		return fmt.Errorf("unexpected event %T", ev)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func initializeSingleFlightScenario(sc *godog.ScenarioContext) {
	f := newSingleFlightFeature()

	sc.Step(`^a pipeline whose detector waits at a gate$`, f.aGatedPipeline)
	sc.Step(`^the pipeline is initialized with a recognizer reading "([^"]*)"$`, f.thePipelineIsInitialized)
	sc.Step(`^the detector gate is open$`, f.theDetectorGateIsOpen)
	sc.Step(`^the detector gate opens$`, f.theDetectorGateIsOpen)
	sc.Step(`^frame (\d+) is submitted$`, f.frameIsSubmitted)
	sc.Step(`^an empty frame (\d+) is submitted$`, f.anEmptyFrameIsSubmitted)
	sc.Step(`^the detector has started on a frame$`, f.theDetectorHasStarted)
	sc.Step(`^frame (\d+) is accepted$`, f.frameIsAccepted)
	sc.Step(`^frame (\d+) is rejected$`, f.frameIsRejected)
	sc.Step(`^frame (\d+) has been released$`, f.frameHasBeenReleased)
	sc.Step(`^frame (\d+) has not been released$`, f.frameHasNotBeenReleased)
	sc.Step(`^all frames have been released$`, f.allFramesHaveBeenReleased)
	sc.Step(`^a result for frame (\d+) arrives with plate text "([^"]*)"$`, f.aResultArrives)
	sc.Step(`^an error for frame (\d+) arrives$`, f.anErrorArrives)
	sc.Step(`^no further events arrive$`, f.noFurtherEventsArrive)

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		f.gate.Release()
		if f.mgr != nil {
			_ = f.mgr.Close()
		}
		return ctx, err
	})
}

func TestFeatures(t *testing.T) {
	entries, err := os.ReadDir("features")
	if err != nil {
		t.Fatalf("failed to read features directory: %v", err)
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "progress"
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".feature") {
			continue
		}
		featurePath := filepath.Join("features", e.Name())
		t.Run(e.Name(), func(t *testing.T) {
			suite := godog.TestSuite{
				ScenarioInitializer: initializeSingleFlightScenario,
				Options: &godog.Options{
					Format:   format,
					Paths:    []string{featurePath},
					TestingT: t,
				},
			}
			if suite.Run() != 0 {
				t.Fatalf("non-zero status returned for %s", featurePath)
			}
		})
	}
}
