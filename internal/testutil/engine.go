package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/platewatch/internal/onnx"
)

// ErrEngineClosed is returned by FakeEngine.Run after Close.
var ErrEngineClosed = errors.New("fake engine closed")

// FakeEngine is a scripted onnx.Engine. RunFunc decides every output.
type FakeEngine struct {
	Input   []int64
	RunFunc func(ctx context.Context, in onnx.Tensor) (onnx.Output, error)

	mu     sync.Mutex
	shapes [][]int64
	calls  atomic.Int64
	closed atomic.Bool
}

// Run records the input shape and delegates to RunFunc.
func (e *FakeEngine) Run(ctx context.Context, in onnx.Tensor) (onnx.Output, error) {
	if e.closed.Load() {
		return onnx.Output{}, ErrEngineClosed
	}
	e.calls.Add(1)
	e.mu.Lock()
	e.shapes = append(e.shapes, slices.Clone(in.Shape))
	e.mu.Unlock()
	if e.RunFunc == nil {
		return onnx.Output{}, errors.New("fake engine has no script")
	}
	return e.RunFunc(ctx, in)
}

// InputShape returns the configured input dimensions.
func (e *FakeEngine) InputShape() []int64 { return slices.Clone(e.Input) }

// Close marks the engine closed; closing twice is an error.
func (e *FakeEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	return nil
}

// Calls reports how many times Run reached the script.
func (e *FakeEngine) Calls() int64 { return e.calls.Load() }

// Closed reports whether Close was called.
func (e *FakeEngine) Closed() bool { return e.closed.Load() }

// InputShapes returns the tensor shapes seen by Run, in call order.
func (e *FakeEngine) InputShapes() [][]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.shapes)
}

// StaticEngine always returns out.
func StaticEngine(input []int64, out onnx.Output) *FakeEngine {
	return &FakeEngine{
		Input: input,
		RunFunc: func(context.Context, onnx.Tensor) (onnx.Output, error) {
			return onnx.Output{Data: slices.Clone(out.Data), Shape: slices.Clone(out.Shape)}, nil
		},
	}
}

// FailingEngine always fails with err.
func FailingEngine(input []int64, err error) *FakeEngine {
	return &FakeEngine{
		Input: input,
		RunFunc: func(context.Context, onnx.Tensor) (onnx.Output, error) {
			return onnx.Output{}, err
		},
	}
}

// SequenceEngine returns outs in order and repeats the last one.
func SequenceEngine(input []int64, outs ...onnx.Output) *FakeEngine {
	var n atomic.Int64
	return &FakeEngine{
		Input: input,
		RunFunc: func(context.Context, onnx.Tensor) (onnx.Output, error) {
			if len(outs) == 0 {
				return onnx.Output{}, errors.New("empty sequence")
			}
			i := min(int(n.Add(1))-1, len(outs)-1)
			return onnx.Output{Data: slices.Clone(outs[i].Data), Shape: slices.Clone(outs[i].Shape)}, nil
		},
	}
}

// Gate blocks engine runs until released. Entered receives one value per
// run that reached the gate.
type Gate struct {
	Entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewGate returns a gate that buffers up to n entry signals.
func NewGate(n int) *Gate {
	return &Gate{Entered: make(chan struct{}, n), release: make(chan struct{})}
}

// Release unblocks every current and future Wait.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// Wait signals entry and blocks until Release or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case g.Entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GatedEngine wraps inner so every Run waits on gate first.
func GatedEngine(inner *FakeEngine, gate *Gate) *FakeEngine {
	next := inner.RunFunc
	return &FakeEngine{
		Input: inner.Input,
		RunFunc: func(ctx context.Context, in onnx.Tensor) (onnx.Output, error) {
			if err := gate.Wait(ctx); err != nil {
				return onnx.Output{}, err
			}
			return next(ctx, in)
		},
	}
}
