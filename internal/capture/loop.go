package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/platewatch/internal/imgsrc"
	"github.com/MeKo-Tech/platewatch/internal/pipeline"
)

// Submitter accepts frames; *pipeline.Manager implements it.
type Submitter interface {
	Submit(task pipeline.FrameTask) bool
}

// Loop reads frames from Source, decodes them with Library and submits them
// at the rate Pacer allows.
type Loop struct {
	Source    FrameSource
	Library   imgsrc.Library
	Manager   Submitter
	Pacer     *pipeline.Pacer // nil disables pacing
	MaxFrames int             // stop after this many frames; 0 means no limit
	Logger    *slog.Logger
}

// LoopStats summarizes a Run.
type LoopStats struct {
	Read         int64  `json:"read"`
	Accepted     int64  `json:"accepted"`
	Dropped      int64  `json:"dropped"`
	DecodeErrors int64  `json:"decode_errors"`
	LastFrameID  uint64 `json:"last_frame_id"`
}

// Run submits frames until the source is exhausted, MaxFrames is reached or
// ctx is done. Frame ids start at 1. Frames that fail to decode are skipped.
func (l *Loop) Run(ctx context.Context) (LoopStats, error) {
	var stats LoopStats
	if l.Source == nil || l.Library == nil || l.Manager == nil {
		return stats, errors.New("capture loop needs a source, a library and a manager")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var nextID uint64
	for l.MaxFrames <= 0 || stats.Read < int64(l.MaxFrames) {
		if l.Pacer != nil {
			if err := l.Pacer.Wait(ctx); err != nil {
				return stats, err
			}
		}

		data, err := l.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Read++

		frame, err := l.Library.Decode(data)
		if err != nil {
			stats.DecodeErrors++
			logger.Warn("Skipping undecodable frame", "error", err)
			continue
		}

		nextID++
		stats.LastFrameID = nextID
		// The manager owns the frame from here, accepted or not.
		if l.Manager.Submit(pipeline.FrameTask{ID: nextID, Frame: frame}) {
			stats.Accepted++
		} else {
			stats.Dropped++
		}
	}

	logger.Debug("Capture loop finished",
		"read", stats.Read,
		"accepted", stats.Accepted,
		"dropped", stats.Dropped,
		"decode_errors", stats.DecodeErrors)
	return stats, nil
}
