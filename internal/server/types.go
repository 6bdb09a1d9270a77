// Package server exposes the plate pipeline over HTTP and WebSocket.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FrameManager is the part of the pipeline manager the server drives.
type FrameManager interface {
	Submit(task pipeline.FrameTask) bool
	Busy() bool
	Stats() pipeline.Stats
	Events() <-chan pipeline.Event
}

// EngineInfo describes the loaded engines.
type EngineInfo interface {
	Info() map[string]interface{}
	Stats() alpr.Stats
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	manager FrameManager
	router  *Router
	lib     imgsrc.Library
	engine  EngineInfo
	logger  *slog.Logger

	corsOrigin     string
	maxUploadMB    int64
	timeout        time.Duration
	minDetConf     float64
	overlayEnabled bool
	rateLimiter    *RateLimiter

	nextID atomic.Uint64
}

// Config holds server configuration.
type Config struct {
	Host             string
	Port             int
	CORSOrigin       string
	MaxUploadMB      int64
	TimeoutSec       int
	MinDetConfidence float64
	OverlayEnabled   bool

	// Per-client limits; zero disables.
	RequestsPerMinute int
	MaxDataPerDayMB   int64
}

// Deps are the runtime collaborators of a Server.
type Deps struct {
	Manager FrameManager   // required; its events are consumed by the server
	Library imgsrc.Library // decodes uploads; nil selects the raster library
	Engine  EngineInfo     // optional, reported by /models and /health
	Logger  *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version,omitempty"`
	Time     string         `json:"time"`
	Busy     bool           `json:"busy"`
	Pipeline pipeline.Stats `json:"pipeline"`
	Engine   *alpr.Stats    `json:"engine,omitempty"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ModelsResponse struct {
	Models []ModelInfo            `json:"models"`
	Count  int                    `json:"count"`
	Engine map[string]interface{} `json:"engine,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	FrameID uint64 `json:"frame_id,omitempty"`
}

// NewServer creates a server and starts routing the manager's events.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Manager == nil {
		return nil, errors.New("pipeline manager is required")
	}
	if deps.Library == nil {
		deps.Library = imgsrc.NewRasterLibrary()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}

	s := &Server{
		manager:        deps.Manager,
		router:         NewRouter(deps.Logger),
		lib:            deps.Library,
		engine:         deps.Engine,
		logger:         deps.Logger,
		corsOrigin:     config.CORSOrigin,
		maxUploadMB:    config.MaxUploadMB,
		timeout:        time.Duration(config.TimeoutSec) * time.Second,
		minDetConf:     config.MinDetConfidence,
		overlayEnabled: config.OverlayEnabled,
	}
	if config.RequestsPerMinute > 0 || config.MaxDataPerDayMB > 0 {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, config.MaxDataPerDayMB*1024*1024)
	}

	go s.router.Run(deps.Manager.Events())
	return s, nil
}

// Router returns the event router.
func (s *Server) Router() *Router { return s.router }

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware("/health", s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware("/models", s.modelsHandler))
	mux.HandleFunc("/alpr/image", s.corsMiddleware("/alpr/image", s.rateLimitMiddleware(s.alprImageHandler)))
	mux.HandleFunc("/alpr/stream", s.rateLimitMiddleware(s.streamHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
