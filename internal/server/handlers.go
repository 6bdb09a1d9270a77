package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/models"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/MeKo-Tech/platewatch/internal/version"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// errBusy means a frame was already in flight and the upload was dropped.
	errBusy = errors.New("pipeline busy, frame dropped")
	// errUnavailable means the pipeline has shut down.
	errUnavailable = errors.New("pipeline unavailable")
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.manager != nil {
		response.Busy = s.manager.Busy()
		response.Pipeline = s.manager.Stats()
	}
	if s.engine != nil {
		st := s.engine.Stats()
		response.Engine = &st
	}
	select {
	case <-s.routerDone():
		response.Status = "stopped"
	default:
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) routerDone() <-chan struct{} {
	if s.router == nil {
		return nil
	}
	return s.router.Done()
}

// modelsHandler returns information about the default model set and the
// loaded engines.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	modelInfos := models.ListAvailableModels()
	modelList := make([]ModelInfo, len(modelInfos))
	for i, info := range modelInfos {
		modelList[i] = ModelInfo{
			Name:        info.Name,
			Path:        models.ResolveModelPath("", info.Type, info.Filename),
			Type:        info.Type,
			Description: info.Description,
		}
	}

	response := ModelsResponse{
		Models: modelList,
		Count:  len(modelList),
	}
	if s.engine != nil {
		response.Engine = s.engine.Info()
	}

	s.writeJSON(w, http.StatusOK, response)
}

// alprImageHandler runs one uploaded frame through the pipeline.
func (s *Server) alprImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}
	if format == "overlay" && !s.overlayEnabled {
		s.writeErrorResponse(w, "overlay output disabled", http.StatusForbidden)
		return
	}

	frame, err := s.lib.Decode(data)
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusUnprocessableEntity)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rep, err := s.processFrame(ctx, frame)
	if err != nil {
		s.writeFrameError(w, err)
		return
	}
	rep.Source = header.Filename

	switch format {
	case "", "json":
		s.writeJSON(w, http.StatusOK, rep)
	case "text", "csv":
		out, err := alpr.Format(format, 3, rep)
		if err != nil {
			http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		if format == "csv" {
			w.Header().Set("Content-Type", "text/csv")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		_, _ = w.Write([]byte(out))
	case "overlay":
		s.writeOverlay(w, data, rep)
	default:
		s.writeErrorResponse(w, "Unsupported format: "+format, http.StatusBadRequest)
	}
}

// processFrame submits frame and waits for its event. Ownership of frame
// passes to the pipeline in every case.
func (s *Server) processFrame(ctx context.Context, frame imgsrc.Image) (*alpr.FrameReport, error) {
	id := s.nextID.Add(1)
	ch, err := s.router.Register(id)
	if err != nil {
		_ = frame.Release()
		return nil, errUnavailable
	}
	if !s.manager.Submit(pipeline.FrameTask{ID: id, Frame: frame}) {
		s.router.Cancel(id)
		return nil, errBusy
	}

	select {
	case ev, ok := <-ch:
		if !ok {
			return nil, errUnavailable
		}
		return s.eventReport(id, ev)
	case <-ctx.Done():
		s.router.Cancel(id)
		return nil, ctx.Err()
	}
}

func (s *Server) eventReport(id uint64, ev pipeline.Event) (*alpr.FrameReport, error) {
	switch e := ev.(type) {
	case pipeline.FrameProcessed:
		return alpr.NewFrameReport(id, e.Results, e.Duration, s.minDetConf), nil
	case pipeline.ErrorEvent:
		return nil, e.Err
	default:
		return nil, fmt.Errorf("unexpected event %T for frame %d", ev, id)
	}
}

// writeFrameError maps pipeline outcomes to HTTP statuses.
func (s *Server) writeFrameError(w http.ResponseWriter, err error) {
	var pe *errdefs.PreprocessError
	switch {
	case errors.Is(err, errBusy):
		w.Header().Set("Retry-After", "1")
		s.writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, errUnavailable), errors.Is(err, pipeline.ErrClosed):
		s.writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, "frame processing timed out", http.StatusGatewayTimeout)
	case errors.As(err, &pe):
		s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("Frame processing failed", "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("ALPR processing failed: %v", err), http.StatusInternalServerError)
	}
}

// writeOverlay re-decodes the upload and draws the plates over it.
func (s *Server) writeOverlay(w http.ResponseWriter, data []byte, rep *alpr.FrameReport) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusUnprocessableEntity)
		return
	}
	ov := alpr.RenderOverlay(img, rep, alpr.DefaultOverlayStyle())
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, ov); err != nil {
		s.logger.Error("Failed to encode overlay", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
