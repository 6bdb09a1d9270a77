package recognizer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/MeKo-Tech/platewatch/internal/errdefs"
)

const decodeOp = "decode plate text"

// Recognition is the decoded text of one plate crop.
type Recognition struct {
	Text            string    `json:"text"`
	Confidence      float64   `json:"confidence"`
	SlotConfidences []float64 `json:"slot_confidences,omitempty"`
}

// DecodePlateText decodes fixed-slot recognizer output. shape is
// [batch, slots, |alphabet|] or [batch, slots*|alphabet|]. Each slot takes its
// highest scoring symbol; slots that decode to the pad symbol are left out of
// the text but still count toward the confidence, which is the mean winning
// probability over all slots (0 unless wantConfidence).
func DecodePlateText(raw []float32, shape []int64, maxSlots int, alphabet *Alphabet,
	wantConfidence bool,
) ([]Recognition, error) {
	if alphabet == nil {
		return nil, errdefs.Postprocess(decodeOp, errors.New("nil alphabet"))
	}
	batch, slots, err := slotLayout(raw, shape, alphabet.Size())
	if err != nil {
		return nil, err
	}
	if maxSlots > 0 && slots != maxSlots {
		slog.Warn("Recognizer slot count differs from configuration, using model output",
			"configured", maxSlots,
			"actual", slots,
			"shape", shape)
	}

	size := alphabet.Size()
	out := make([]Recognition, 0, batch)
	for b := range batch {
		var text strings.Builder
		var probs []float64
		if wantConfidence {
			probs = make([]float64, 0, slots)
		}
		var sum float64

		for s := range slots {
			off := (b*slots + s) * size
			v := raw[off : off+size]
			idx := argmax(v)
			if idx != alphabet.PadIndex() {
				text.WriteRune(alphabet.Symbol(idx))
			}
			if wantConfidence {
				p := topProbability(v, idx)
				probs = append(probs, p)
				sum += p
			}
		}

		rec := Recognition{Text: text.String()}
		if wantConfidence && slots > 0 {
			rec.Confidence = sum / float64(slots)
			rec.SlotConfidences = probs
		}
		out = append(out, rec)
	}
	return out, nil
}

// slotLayout validates shape against the alphabet and data length and returns
// the batch and slot counts.
func slotLayout(raw []float32, shape []int64, size int) (int, int, error) {
	for _, d := range shape {
		if d < 0 {
			return 0, 0, errdefs.Postprocess(decodeOp, fmt.Errorf("negative dimension in shape %v", shape))
		}
	}

	var batch, slots int
	switch len(shape) {
	case 3:
		if int(shape[2]) != size {
			return 0, 0, errdefs.Postprocess(decodeOp,
				fmt.Errorf("class dimension %d does not match alphabet size %d", shape[2], size))
		}
		batch, slots = int(shape[0]), int(shape[1])
	case 2:
		if int(shape[1])%size != 0 {
			return 0, 0, errdefs.Postprocess(decodeOp,
				fmt.Errorf("flat dimension %d is not a multiple of alphabet size %d", shape[1], size))
		}
		batch, slots = int(shape[0]), int(shape[1])/size
	default:
		return 0, 0, errdefs.Postprocess(decodeOp, fmt.Errorf("unsupported output rank %d, shape %v", len(shape), shape))
	}

	if want := batch * slots * size; want != len(raw) {
		return 0, 0, errdefs.Postprocess(decodeOp,
			fmt.Errorf("shape %v needs %d values, got %d", shape, want, len(raw)))
	}
	return batch, slots, nil
}

// argmax returns the first index holding the largest value.
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// topProbability returns the probability of v[idx]. Values that already look
// like a distribution (in [0,1], summing to ~1) are used as is; anything else
// is treated as logits.
func topProbability(v []float32, idx int) float64 {
	var sum float64
	minV, maxV := v[0], v[0]
	for _, x := range v {
		sum += float64(x)
		minV = min(minV, x)
		maxV = max(maxV, x)
	}
	if sum > 0.99 && sum < 1.01 && minV >= 0 && maxV <= 1 {
		return float64(v[idx])
	}

	// Stable softmax: p_i = exp(x_i - m) / sum_j exp(x_j - m)
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - maxV))
	}
	if denom == 0 || math.IsNaN(denom) {
		return 0
	}
	return math.Exp(float64(v[idx]-maxV)) / denom
}
