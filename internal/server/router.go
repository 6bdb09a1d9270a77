package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/platewatch/internal/pipeline"
)

// errRouterStopped is returned by Register once the event stream has ended.
var errRouterStopped = errors.New("event router stopped")

// Router fans the manager's single event stream out to per-frame waiters.
// A waiter must be registered before its frame is submitted.
type Router struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[uint64]chan pipeline.Event
	stopped bool

	done     chan struct{}
	unrouted atomic.Int64
}

// NewRouter creates a router. Run must be called to start delivery.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:  logger,
		waiters: make(map[uint64]chan pipeline.Event),
		done:    make(chan struct{}),
	}
}

// Run delivers events until the stream is closed, then closes every
// pending waiter.
func (r *Router) Run(events <-chan pipeline.Event) {
	defer r.stop()
	for ev := range events {
		r.route(ev)
	}
}

func (r *Router) route(ev pipeline.Event) {
	var id uint64
	switch e := ev.(type) {
	case pipeline.InitComplete:
		r.logger.Info("Pipeline engines loaded", "duration_ms", e.Duration.Milliseconds())
		return
	case pipeline.FrameProcessed:
		id = e.FrameID
	case pipeline.ErrorEvent:
		if e.Init {
			r.logger.Error("Pipeline initialization failed", "error", e.Err)
			return
		}
		id = e.FrameID
	default:
		return
	}

	r.mu.Lock()
	ch, ok := r.waiters[id]
	delete(r.waiters, id)
	r.mu.Unlock()

	if !ok {
		r.unrouted.Add(1)
		r.logger.Debug("Event without waiter", "frame_id", id)
		return
	}
	ch <- ev // buffered, one event per waiter
}

func (r *Router) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	for id, ch := range r.waiters {
		close(ch)
		delete(r.waiters, id)
	}
	close(r.done)
}

// Register creates the waiter for frame id. The returned channel yields
// exactly one event, or is closed if the stream ends first.
func (r *Router) Register(id uint64) (<-chan pipeline.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, errRouterStopped
	}
	ch := make(chan pipeline.Event, 1)
	r.waiters[id] = ch
	return ch, nil
}

// Cancel drops the waiter for id, e.g. after the frame was rejected or the
// client went away. A later event for id is discarded.
func (r *Router) Cancel(id uint64) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

// Pending returns the number of registered waiters.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Unrouted returns the number of frame events that had no waiter.
func (r *Router) Unrouted() int64 { return r.unrouted.Load() }

// Done is closed once the event stream has ended.
func (r *Router) Done() <-chan struct{} { return r.done }
