// Package onnx adapts ONNX Runtime to the pipeline's Engine abstraction.
package onnx

import (
	"context"
)

// Engine runs a loaded model on one input tensor. The first declared input
// and output of the model are used.
type Engine interface {
	Run(ctx context.Context, in Tensor) (Output, error)
	// InputShape returns the model's declared input dimensions; dynamic axes are -1.
	InputShape() []int64
	Close() error
}

// SessionOptions configures an ONNX Runtime session.
type SessionOptions struct {
	Name       string    // used in error messages and logs
	NumThreads int       // intra-op threads, 0 for runtime default
	GPU        GPUConfig // CUDA execution provider settings
}
