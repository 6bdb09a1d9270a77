package detector

import (
	"cmp"
	"slices"
	"strings"
)

// FilterByLabel keeps detections whose label matches one of labels
// (case-insensitive). An empty label list keeps everything.
func FilterByLabel(dets []Detection, labels ...string) []Detection {
	if len(labels) == 0 {
		return dets
	}
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		for _, l := range labels {
			if strings.EqualFold(d.Label, l) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// FilterByConfidence keeps detections with Confidence >= minConf.
func FilterByConfidence(dets []Detection, minConf float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= minConf {
			out = append(out, d)
		}
	}
	return out
}

// ByConfidence returns a copy sorted by descending confidence. Ties keep
// their original order.
func ByConfidence(dets []Detection) []Detection {
	out := slices.Clone(dets)
	slices.SortStableFunc(out, func(a, b Detection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}
