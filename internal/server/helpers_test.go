package server

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/detector"
	"github.com/MeKo-Tech/platewatch/internal/geometry"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/MeKo-Tech/platewatch/internal/recognizer"
)

// fakeManager accepts frames and answers each accepted one on its event
// stream with the event built by respond. Frames are released on Submit.
type fakeManager struct {
	events  chan pipeline.Event
	respond func(id uint64) pipeline.Event // nil leaves the frame unanswered
	reject  atomic.Bool

	mu        sync.Mutex
	submitted []uint64
	closed    bool
}

func newFakeManager(respond func(id uint64) pipeline.Event) *fakeManager {
	return &fakeManager{events: make(chan pipeline.Event, 16), respond: respond}
}

func (m *fakeManager) Submit(task pipeline.FrameTask) bool {
	if task.Frame != nil {
		_ = task.Frame.Release()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, task.ID)
	if m.closed || m.reject.Load() {
		return false
	}
	if m.respond != nil {
		m.events <- m.respond(task.ID)
	}
	return true
}

func (m *fakeManager) Busy() bool { return m.reject.Load() }

func (m *fakeManager) Stats() pipeline.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pipeline.Stats{Submitted: int64(len(m.submitted))}
}

func (m *fakeManager) Events() <-chan pipeline.Event { return m.events }

// Close ends the event stream.
func (m *fakeManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}

func (m *fakeManager) Submitted() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.submitted...)
}

// plateResponse answers every frame with one read plate.
func plateResponse(id uint64) pipeline.Event {
	return pipeline.FrameProcessed{
		FrameID:  id,
		Duration: 2 * time.Millisecond,
		Results: []alpr.PlateResult{
			{
				Detection: detector.Detection{
					Label:      "License Plate",
					Confidence: 0.93,
					Box:        geometry.BoundingBox{X1: 4, Y1: 6, X2: 40, Y2: 18},
				},
				Recognition: &recognizer.Recognition{Text: "AB129", Confidence: 0.88},
			},
			{
				Detection: detector.Detection{
					Label:      "License Plate",
					Confidence: 0.15,
					Box:        geometry.BoundingBox{X1: 50, Y1: 10, X2: 60, Y2: 14},
				},
			},
		},
	}
}

type fakeEngine struct{}

func (fakeEngine) Info() map[string]interface{} {
	return map[string]interface{}{"state": "ready", "image_backend": "raster"}
}

func (fakeEngine) Stats() alpr.Stats { return alpr.Stats{Frames: 3, Detections: 5} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a server over mgr. The manager's stream is closed
// by the returned cleanup.
func newTestServer(mgr *fakeManager, cfg Config) (*Server, func()) {
	s, err := NewServer(cfg, Deps{Manager: mgr, Engine: fakeEngine{}, Logger: discardLogger()})
	if err != nil {
		panic(err)
	}
	return s, func() {
		mgr.Close()
		<-s.Router().Done()
	}
}

// testPNG encodes a small solid image.
func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// createMultipartRequest creates a multipart upload for testing.
func createMultipartRequest(url, fieldName, fileName string, data []byte, fields map[string]string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		panic(err)
	}
	if _, err := part.Write(data); err != nil {
		panic(err)
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if err := writer.Close(); err != nil {
		panic(err)
	}

	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
