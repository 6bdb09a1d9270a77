package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platewatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Frame scheduling metrics, fed by the pipeline observer
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platewatch_frames_total",
			Help: "Frames by outcome",
		},
		[]string{"outcome"}, // submitted, dropped, processed, failed
	)

	frameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platewatch_frame_duration_seconds",
			Help:    "Time from dequeue to result per frame",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	platesPerFrame = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platewatch_plates_per_frame",
			Help:    "Number of plates returned per processed frame",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platewatch_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // minute, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "platewatch_upload_size_bytes",
			Help:    "Size of uploaded frames in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "platewatch_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platewatch_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)

// MetricsObserver records pipeline activity in the Prometheus registry.
// It satisfies pipeline.Observer.
type MetricsObserver struct{}

func (MetricsObserver) OnSubmitted(uint64) { framesTotal.WithLabelValues("submitted").Inc() }

func (MetricsObserver) OnDropped(uint64) { framesTotal.WithLabelValues("dropped").Inc() }

func (MetricsObserver) OnProcessed(_ uint64, plates int, d time.Duration) {
	framesTotal.WithLabelValues("processed").Inc()
	frameDuration.Observe(d.Seconds())
	platesPerFrame.Observe(float64(plates))
}

func (MetricsObserver) OnFailed(_ uint64, _ error, d time.Duration) {
	framesTotal.WithLabelValues("failed").Inc()
	frameDuration.Observe(d.Seconds())
}
