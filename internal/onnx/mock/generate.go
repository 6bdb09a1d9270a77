// Package mock builds synthetic model outputs in the layouts the plate
// detector and recognizer produce.
package mock

import (
	"github.com/MeKo-Tech/platewatch/internal/onnx"
)

// DetectionWidth is the record length of an end-to-end detector row:
// [batchIndex, x1, y1, x2, y2, classId, score].
const DetectionWidth = 7

// DetRecord is one detector candidate in letterbox coordinates.
type DetRecord struct {
	X1, Y1, X2, Y2 float32
	Class          float32
	Score          float32
}

// PadScore marks filler rows added to equalise candidate counts.
const PadScore float32 = -1

// NewDetectionOutput lays out per-batch candidates as [B, N, 7]. Shorter
// batches are padded with PadScore rows so N is the longest batch.
func NewDetectionOutput(batches [][]DetRecord) onnx.Output {
	n := 0
	for _, b := range batches {
		n = max(n, len(b))
	}
	data := make([]float32, 0, len(batches)*n*DetectionWidth)
	for bi, b := range batches {
		for i := range n {
			if i < len(b) {
				r := b[i]
				data = append(data, float32(bi), r.X1, r.Y1, r.X2, r.Y2, r.Class, r.Score)
			} else {
				data = append(data, float32(bi), 0, 0, 0, 0, 0, PadScore)
			}
		}
	}
	return onnx.Output{Data: data, Shape: []int64{int64(len(batches)), int64(n), DetectionWidth}}
}

// NewFlatDetectionOutput lays out one candidate per batch item as [B, 7].
func NewFlatDetectionOutput(records []DetRecord) onnx.Output {
	data := make([]float32, 0, len(records)*DetectionWidth)
	for bi, r := range records {
		data = append(data, float32(bi), r.X1, r.Y1, r.X2, r.Y2, r.Class, r.Score)
	}
	return onnx.Output{Data: data, Shape: []int64{int64(len(records)), DetectionWidth}}
}

// NewSlotProbs builds recognizer output where argmax of slot s in batch b is
// indices[b][s]. The winning symbol gets high, the rest share 1-high.
// All batches must have the same slot count. With flat the shape is
// [B, slots*A], otherwise [B, slots, A].
func NewSlotProbs(indices [][]int, alphabetSize int, high float32, flat bool) onnx.Output {
	if len(indices) == 0 || alphabetSize <= 0 {
		return onnx.Output{Shape: []int64{}}
	}
	slots := len(indices[0])
	low := float32(0)
	if alphabetSize > 1 {
		low = (1 - high) / float32(alphabetSize-1)
	}
	data := make([]float32, len(indices)*slots*alphabetSize)
	for b, seq := range indices {
		for s, idx := range seq {
			off := (b*slots + s) * alphabetSize
			for k := range alphabetSize {
				data[off+k] = low
			}
			if idx >= 0 && idx < alphabetSize {
				data[off+idx] = high
			}
		}
	}
	shape := []int64{int64(len(indices)), int64(slots), int64(alphabetSize)}
	if flat {
		shape = []int64{int64(len(indices)), int64(slots * alphabetSize)}
	}
	return onnx.Output{Data: data, Shape: shape}
}

// IndicesFor maps each rune of text to its position in alphabet. Unknown
// runes map to -1.
func IndicesFor(text string, alphabet []rune) []int {
	pos := make(map[rune]int, len(alphabet))
	for i, r := range alphabet {
		pos[r] = i
	}
	out := make([]int, 0, len(text))
	for _, r := range text {
		if i, ok := pos[r]; ok {
			out = append(out, i)
		} else {
			out = append(out, -1)
		}
	}
	return out
}
