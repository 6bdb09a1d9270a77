package alpr

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/platewatch/internal/geometry"
)

// PlateReport is the flattened output form of one PlateResult.
type PlateReport struct {
	Label         string               `json:"label"`
	DetConfidence float64              `json:"det_confidence"`
	Box           geometry.BoundingBox `json:"box"`
	Text          string               `json:"text,omitempty"`
	RecConfidence *float64             `json:"rec_confidence,omitempty"`
}

// Recognized reports whether the plate carries a recognition.
func (p PlateReport) Recognized() bool { return p.RecConfidence != nil }

// FrameReport is the output form of one processed frame.
type FrameReport struct {
	FrameID      uint64        `json:"frame_id"`
	Source       string        `json:"source,omitempty"`
	Plates       []PlateReport `json:"plates"`
	ProcessingNs int64         `json:"processing_ns"`
}

// NewFrameReport flattens results in detector order, dropping detections
// below minDetConf.
func NewFrameReport(frameID uint64, results []PlateResult, d time.Duration, minDetConf float64) *FrameReport {
	rep := &FrameReport{
		FrameID:      frameID,
		Plates:       make([]PlateReport, 0, len(results)),
		ProcessingNs: d.Nanoseconds(),
	}
	for _, r := range results {
		if r.Detection.Confidence < minDetConf {
			continue
		}
		p := PlateReport{
			Label:         r.Detection.Label,
			DetConfidence: r.Detection.Confidence,
			Box:           r.Detection.Box,
		}
		if r.Recognition != nil {
			p.Text = r.Recognition.Text
			conf := r.Recognition.Confidence
			p.RecConfidence = &conf
		}
		rep.Plates = append(rep.Plates, p)
	}
	return rep
}

// ToJSON serializes reports to pretty JSON. A single report is written as
// an object, several as an array.
func ToJSON(reports ...*FrameReport) (string, error) {
	var v any = reports
	if len(reports) == 1 {
		if reports[0] == nil {
			return "", errors.New("nil report")
		}
		v = reports[0]
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToText renders one line per plate: "<source> <text> <box> det=.. rec=..".
// Unrecognized plates print "?" for the text.
func ToText(precision int, reports ...*FrameReport) (string, error) {
	var sb strings.Builder
	for _, rep := range reports {
		if rep == nil {
			return "", errors.New("nil report")
		}
		prefix := rep.Source
		if prefix == "" {
			prefix = "frame " + strconv.FormatUint(rep.FrameID, 10)
		}
		if len(rep.Plates) == 0 {
			fmt.Fprintf(&sb, "%s: no plates\n", prefix)
			continue
		}
		for _, p := range rep.Plates {
			text, rec := "?", "-"
			if p.Recognized() {
				text = p.Text
				rec = strconv.FormatFloat(*p.RecConfidence, 'f', precision, 64)
			}
			fmt.Fprintf(&sb, "%s: %s %s det=%s rec=%s\n", prefix, text, p.Box,
				strconv.FormatFloat(p.DetConfidence, 'f', precision, 64), rec)
		}
	}
	return sb.String(), nil
}

// ToCSV exports one row per plate with a header.
func ToCSV(reports ...*FrameReport) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"frame_id", "source", "label", "x1", "y1", "x2", "y2", "det_conf", "text", "rec_conf"})
	for _, rep := range reports {
		if rep == nil {
			return "", errors.New("nil report")
		}
		for _, p := range rep.Plates {
			rec := ""
			if p.Recognized() {
				rec = fmt.Sprintf("%.3f", *p.RecConfidence)
			}
			_ = w.Write([]string{
				strconv.FormatUint(rep.FrameID, 10),
				rep.Source,
				p.Label,
				strconv.Itoa(p.Box.X1),
				strconv.Itoa(p.Box.Y1),
				strconv.Itoa(p.Box.X2),
				strconv.Itoa(p.Box.Y2),
				fmt.Sprintf("%.3f", p.DetConfidence),
				p.Text,
				rec,
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Format renders reports in the named output format (text, json or csv).
func Format(format string, precision int, reports ...*FrameReport) (string, error) {
	switch format {
	case "", "text":
		return ToText(precision, reports...)
	case "json":
		return ToJSON(reports...)
	case "csv":
		return ToCSV(reports...)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
