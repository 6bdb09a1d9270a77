package pipeline

import (
	"time"

	"github.com/MeKo-Tech/platewatch/internal/alpr"
	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
)

// FrameTask is one captured frame. Submitting a task hands the frame to the
// manager, which releases it exactly once whether or not it is processed.
type FrameTask struct {
	ID    uint64
	Frame imgsrc.Image
}

// Request is a message for the inference worker: InitRequest or ProcessFrameRequest.
type Request interface {
	isRequest()
}

// InitRequest asks the worker to load the engines.
type InitRequest struct {
	reply chan error
}

// ProcessFrameRequest asks the worker to run one frame.
type ProcessFrameRequest struct {
	Task FrameTask
}

func (InitRequest) isRequest()         {}
func (ProcessFrameRequest) isRequest() {}

// Event is a message from the inference worker: InitComplete, FrameProcessed
// or ErrorEvent.
type Event interface {
	isEvent()
}

// InitComplete reports that both engines are loaded.
type InitComplete struct {
	Duration time.Duration
}

// FrameProcessed carries the results for one frame.
type FrameProcessed struct {
	FrameID  uint64
	Results  []alpr.PlateResult
	Duration time.Duration
}

// ErrorEvent reports a failed frame, or a failed init when Init is set.
type ErrorEvent struct {
	FrameID uint64
	Init    bool
	Err     error
}

func (InitComplete) isEvent()   {}
func (FrameProcessed) isEvent() {}
func (ErrorEvent) isEvent()     {}
