// Package detection decodes raw multi-stride detector tensors into face
// boxes, filters them and reduces them with non-maximum suppression.
package detection

import (
	"fmt"
	"math"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/inference"
	"github.com/kozaktomas/faceclock/internal/preprocess"
)

// Detection is a face candidate in canonical pixel space.
type Detection struct {
	Box       facematch.Box `json:"box"`
	Score     float64       `json:"score"`
	Landmarks Landmarks     `json:"-"`
}

// Attributes infers landmark attributes; unknown when landmarks are absent.
func (d Detection) Attributes() Attributes {
	return d.Landmarks.Attributes(d.Box)
}

// Decoder turns raw detector output into detections.
type Decoder struct {
	cfg config.DetectionConfig
}

// NewDecoder validates the detection settings and creates a decoder.
func NewDecoder(cfg config.DetectionConfig) (*Decoder, error) {
	switch cfg.ScoreNormalization {
	case config.ScoreNormalizationAuto, config.ScoreNormalizationAlways, config.ScoreNormalizationNever:
	default:
		return nil, fmt.Errorf("unknown score normalization %q", cfg.ScoreNormalization)
	}
	if cfg.AnchorsPerCell <= 0 {
		return nil, fmt.Errorf("anchors per cell must be positive, got %d", cfg.AnchorsPerCell)
	}
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("invalid detector input size %d", cfg.InputSize)
	}
	return &Decoder{cfg: cfg}, nil
}

// Decode converts every anchor scoring at least minScore into a detection in
// canonical pixels. frameW and frameH bound the canonical frame.
func (d *Decoder) Decode(out *inference.DetectorOutput, m preprocess.Mapping, frameW, frameH int, minScore float64) ([]Detection, error) {
	if out == nil {
		return nil, nil
	}
	var dets []Detection
	for _, so := range out.Strides {
		strideDets, err := d.decodeStride(so, m, float64(frameW), float64(frameH), minScore)
		if err != nil {
			return nil, err
		}
		dets = append(dets, strideDets...)
	}
	return dets, nil
}

func (d *Decoder) decodeStride(so inference.StrideOutput, m preprocess.Mapping, frameW, frameH, minScore float64) ([]Detection, error) {
	if so.Stride <= 0 {
		return nil, fmt.Errorf("invalid stride %d", so.Stride)
	}
	channels := max(so.ScoreChannels, 1)
	grid := d.cfg.InputSize / so.Stride
	anchors := grid * grid * d.cfg.AnchorsPerCell

	if len(so.Scores) != anchors*channels {
		return nil, fmt.Errorf("stride %d: expected %d scores, got %d", so.Stride, anchors*channels, len(so.Scores))
	}
	if len(so.Boxes) != anchors*4 {
		return nil, fmt.Errorf("stride %d: expected %d box values, got %d", so.Stride, anchors*4, len(so.Boxes))
	}
	hasLandmarks := len(so.Landmarks) > 0
	if hasLandmarks && len(so.Landmarks) != anchors*10 {
		return nil, fmt.Errorf("stride %d: expected %d landmark values, got %d", so.Stride, anchors*10, len(so.Landmarks))
	}

	scores := d.normalizeScores(so.Scores, channels)
	stride := float64(so.Stride)
	size := float64(d.cfg.InputSize)

	var dets []Detection
	for i, score := range scores {
		if score < minScore {
			continue
		}
		cell := i / d.cfg.AnchorsPerCell
		cx := float64(cell%grid) * stride
		cy := float64(cell/grid) * stride

		b := so.Boxes[i*4 : i*4+4]
		x1 := clamp(cx-float64(b[0])*stride, 0, size)
		y1 := clamp(cy-float64(b[1])*stride, 0, size)
		x2 := clamp(cx+float64(b[2])*stride, 0, size)
		y2 := clamp(cy+float64(b[3])*stride, 0, size)
		if anyNaN(x1, y1, x2, y2) {
			continue
		}

		box := m.BoxToCanonical(facematch.BoxFromCorners(x1, y1, x2, y2))
		box = facematch.ClampBox(box, frameW, frameH)
		if box.W <= 0 || box.H <= 0 {
			continue
		}

		det := Detection{Box: box, Score: score}
		if hasLandmarks {
			det.Landmarks = decodeLandmarks(so.Landmarks[i*10:i*10+10], cx, cy, stride, m)
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// normalizeScores applies the configured sigmoid policy and returns one
// sanitized face probability per anchor.
func (d *Decoder) normalizeScores(raw []float32, channels int) []float64 {
	n := len(raw) / channels
	out := make([]float64, n)

	if channels == 2 {
		for i := range n {
			out[i] = sanitizeScore(Sigmoid(float64(raw[i*2+1]) - float64(raw[i*2])))
		}
		return out
	}

	apply := false
	switch d.cfg.ScoreNormalization {
	case config.ScoreNormalizationAlways:
		apply = true
	case config.ScoreNormalizationAuto:
		apply = !LooksLikeProbability(raw)
	}
	for i := range n {
		v := float64(raw[i])
		if apply {
			v = Sigmoid(v)
		}
		out[i] = sanitizeScore(v)
	}
	return out
}

func decodeLandmarks(raw []float32, cx, cy, stride float64, m preprocess.Mapping) Landmarks {
	var pts [5]facematch.Point
	for k := range 5 {
		x, y := m.ToCanonical(cx+float64(raw[k*2])*stride, cy+float64(raw[k*2+1])*stride)
		if anyNaN(x, y) {
			return Landmarks{}
		}
		pts[k] = facematch.Point{X: x, Y: y}
	}
	return NewLandmarks(pts)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
