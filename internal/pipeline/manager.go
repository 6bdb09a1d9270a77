// Package pipeline runs frame inference on a single background worker and
// drops frames that arrive while a frame is still in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
)

var (
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("pipeline manager closed")
	// ErrQueueFull is returned by Init when the request queue has no room.
	ErrQueueFull = errors.New("pipeline request queue full")
	// ErrPredictorPanic wraps a panic recovered from the predictor.
	ErrPredictorPanic = errors.New("predictor panicked")
)

const requestQueueSize = 4

// Predictor is the inference the manager drives; *alpr.Orchestrator implements it.
type Predictor interface {
	Init(ctx context.Context) error
	Predict(ctx context.Context, src imgsrc.Source) ([]alpr.PlateResult, error)
}

// Options configures a Manager.
type Options struct {
	EventBuffer int           // capacity of the events channel (default: 16)
	Observer    Observer      // optional activity hook
	Logger      *slog.Logger  // nil selects slog.Default()
	Timeout     time.Duration // optional per-frame predict timeout
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{EventBuffer: 16}
}

// Stats counts manager activity.
type Stats struct {
	Submitted    int64         `json:"submitted"`
	Accepted     int64         `json:"accepted"`
	Dropped      int64         `json:"dropped"`
	Processed    int64         `json:"processed"`
	Failed       int64         `json:"failed"`
	Busy         bool          `json:"busy"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

// Manager accepts at most one frame at a time. Frames submitted while a
// frame is in flight are released and rejected. Results and errors are
// delivered on Events tagged with the frame id, in completion order.
type Manager struct {
	predictor Predictor
	observer  Observer
	logger    *slog.Logger
	timeout   time.Duration

	requests chan Request
	events   chan Event
	quit     chan struct{}
	done     chan struct{}

	busy atomic.Bool

	mu      sync.Mutex
	closed  bool
	started bool

	submitted    atomic.Int64
	accepted     atomic.Int64
	dropped      atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	lastDuration atomic.Int64
}

// New creates a manager for p. Start must be called before requests are served.
func New(p Predictor, opts Options) (*Manager, error) {
	if p == nil {
		return nil, errors.New("predictor is required")
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}
	if opts.Observer == nil {
		opts.Observer = NoOpObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		predictor: p,
		observer:  opts.Observer,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		requests:  make(chan Request, requestQueueSize),
		events:    make(chan Event, opts.EventBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the inference worker. Cancelling ctx shuts the manager down
// like Close.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return errors.New("pipeline manager already started")
	}
	m.started = true
	go m.run(ctx)
	return nil
}

// Events returns the event stream. It is closed after the manager shuts down.
func (m *Manager) Events() <-chan Event { return m.events }

// Busy reports whether a frame is in flight.
func (m *Manager) Busy() bool { return m.busy.Load() }

// Init asks the worker to load the engines and waits for the outcome. The
// outcome is also published as InitComplete or an init ErrorEvent.
func (m *Manager) Init(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.enqueue(InitRequest{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands task to the manager. It returns false when a frame is already
// in flight or the manager is closed; the frame has then been released.
func (m *Manager) Submit(task FrameTask) bool {
	m.submitted.Add(1)
	m.observer.OnSubmitted(task.ID)

	if !m.busy.CompareAndSwap(false, true) {
		m.drop(task, "busy")
		return false
	}
	if err := m.enqueue(ProcessFrameRequest{Task: task}); err != nil {
		m.busy.Store(false)
		m.drop(task, err.Error())
		return false
	}
	m.accepted.Add(1)
	return true
}

func (m *Manager) drop(task FrameTask, reason string) {
	m.dropped.Add(1)
	m.release(task)
	m.observer.OnDropped(task.ID)
	m.logger.Debug("Frame dropped", "frame_id", task.ID, "reason", reason)
}

func (m *Manager) enqueue(req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.requests <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the worker after the request in progress finishes. Queued
// frames are released without being processed. Close is idempotent.
func (m *Manager) Close() error {
	first := m.markClosed()

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if started {
		<-m.done
		return nil
	}
	if first {
		m.drain()
		close(m.events)
	}
	return nil
}

func (m *Manager) markClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.closed = true
	close(m.quit)
	return true
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Submitted:    m.submitted.Load(),
		Accepted:     m.accepted.Load(),
		Dropped:      m.dropped.Load(),
		Processed:    m.processed.Load(),
		Failed:       m.failed.Load(),
		Busy:         m.busy.Load(),
		LastDuration: time.Duration(m.lastDuration.Load()),
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer close(m.events)

	for {
		select {
		case req := <-m.requests:
			m.dispatch(ctx, req)
		case <-m.quit:
			m.drain()
			return
		case <-ctx.Done():
			m.markClosed()
			m.drain()
			return
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, req Request) {
	switch r := req.(type) {
	case InitRequest:
		m.handleInit(ctx, r)
	case ProcessFrameRequest:
		m.handleFrame(ctx, r.Task)
	default:
		m.logger.Error("Unknown pipeline request", "type", fmt.Sprintf("%T", req))
	}
}

func (m *Manager) handleInit(ctx context.Context, r InitRequest) {
	start := time.Now()
	err := m.guard(func() error { return m.predictor.Init(ctx) })
	if err != nil {
		m.logger.Error("Pipeline init failed", "error", err)
		m.emit(ErrorEvent{Init: true, Err: err})
	} else {
		m.emit(InitComplete{Duration: time.Since(start)})
	}
	r.reply <- err
}

func (m *Manager) handleFrame(ctx context.Context, task FrameTask) {
	start := time.Now()
	var results []alpr.PlateResult
	err := m.guard(func() error {
		defer m.release(task)
		pctx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		var err error
		results, err = m.predictor.Predict(pctx, imgsrc.Matrix{Image: task.Frame})
		return err
	})
	d := time.Since(start)
	m.lastDuration.Store(int64(d))

	// Idle before the event goes out so a consumer reacting to it can submit.
	m.busy.Store(false)

	if err != nil {
		m.failed.Add(1)
		m.observer.OnFailed(task.ID, err, d)
		m.logger.Warn("Frame failed", "frame_id", task.ID, "error", err)
		m.emit(ErrorEvent{FrameID: task.ID, Err: err})
		return
	}
	m.processed.Add(1)
	m.observer.OnProcessed(task.ID, len(results), d)
	m.emit(FrameProcessed{FrameID: task.ID, Results: results, Duration: d})
}

// guard runs fn and turns a panic into an error.
func (m *Manager) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPredictorPanic, r)
		}
	}()
	return fn()
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.quit:
		m.logger.Debug("Event discarded during shutdown", "type", fmt.Sprintf("%T", ev))
	}
}

// drain releases queued frames and fails queued inits. Only called once no
// further requests can be enqueued.
func (m *Manager) drain() {
	for {
		select {
		case req := <-m.requests:
			switch r := req.(type) {
			case InitRequest:
				r.reply <- ErrClosed
			case ProcessFrameRequest:
				m.release(r.Task)
				m.dropped.Add(1)
				m.observer.OnDropped(r.Task.ID)
			}
		default:
			m.busy.Store(false)
			return
		}
	}
}

func (m *Manager) release(task FrameTask) {
	if task.Frame == nil {
		return
	}
	if err := task.Frame.Release(); err != nil {
		m.logger.Warn("Failed to release frame", "frame_id", task.ID, "error", err)
	}
}
