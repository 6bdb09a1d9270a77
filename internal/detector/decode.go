package detector

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
	"github.com/MeKo-Tech/platewatch/internal/geometry"
	"github.com/MeKo-Tech/platewatch/internal/letterbox"
)

const (
	// RecordWidth is the number of values per candidate: [batch_id, x1, y1, x2, y2, class, score].
	RecordWidth = 7

	// FallbackLabel names class ids outside the label list.
	FallbackLabel = "unknown"

	decodeOp = "decode detections"
)

// Detection is one plate candidate in source-frame pixels.
type Detection struct {
	Label      string               `json:"label"`
	ClassID    int                  `json:"class_id"`
	Confidence float64              `json:"confidence"`
	Box        geometry.BoundingBox `json:"box"`
}

// DecodeDetections turns end-to-end detector output into detections in
// source coordinates. shape is [batch, N, 7] or [batch, 7]. Candidates
// scoring below scoreThreshold are dropped; no suppression is applied.
// Output preserves batch order, then candidate order.
func DecodeDetections(raw []float32, shape []int64, labels []string, t letterbox.Transform,
	scoreThreshold float32,
) ([]Detection, error) {
	rows, err := recordCount(raw, shape)
	if err != nil {
		return nil, err
	}
	if t.Scale <= 0 || math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) {
		return nil, errdefs.Postprocess(decodeOp, fmt.Errorf("invalid transform scale %v", t.Scale))
	}

	out := make([]Detection, 0, rows)
	var belowThreshold, degenerate int
	for i := range rows {
		rec := raw[i*RecordWidth : (i+1)*RecordWidth]
		score := rec[6]
		if math.IsNaN(float64(score)) || score < scoreThreshold {
			belowThreshold++
			continue
		}

		x1, y1 := t.ToSource(float64(rec[1]), float64(rec[2]))
		x2, y2 := t.ToSource(float64(rec[3]), float64(rec[4]))
		box, ok := geometry.NewBoundingBox(x1, y1, x2, y2)
		if !ok {
			degenerate++
			continue
		}

		classID, label := classLabel(rec[5], labels)
		out = append(out, Detection{
			Label:      label,
			ClassID:    classID,
			Confidence: float64(score),
			Box:        box,
		})
	}

	slog.Debug("Decoded detections",
		"candidates", rows,
		"kept", len(out),
		"below_threshold", belowThreshold,
		"degenerate", degenerate)

	return out, nil
}

// recordCount validates the output layout and returns the number of records.
func recordCount(raw []float32, shape []int64) (int, error) {
	switch len(shape) {
	case 2, 3:
	default:
		return 0, errdefs.Postprocess(decodeOp, fmt.Errorf("unsupported output rank %d, shape %v", len(shape), shape))
	}
	if shape[len(shape)-1] != RecordWidth {
		return 0, errdefs.Postprocess(decodeOp,
			fmt.Errorf("last dimension must be %d, shape %v", RecordWidth, shape))
	}

	rows := 1
	for _, d := range shape[:len(shape)-1] {
		if d < 0 {
			return 0, errdefs.Postprocess(decodeOp, fmt.Errorf("negative dimension in shape %v", shape))
		}
		rows *= int(d)
	}
	if rows*RecordWidth != len(raw) {
		return 0, errdefs.Postprocess(decodeOp,
			fmt.Errorf("shape %v needs %d values, got %d", shape, rows*RecordWidth, len(raw)))
	}
	return rows, nil
}

func classLabel(v float32, labels []string) (int, string) {
	f := math.Round(float64(v))
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return -1, FallbackLabel
	case f < 0 || f >= float64(len(labels)):
		return int(f), FallbackLabel
	}
	id := int(f)
	return id, labels[id]
}
