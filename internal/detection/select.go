package detection

import (
	"fmt"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/facematch"
)

// Mode selects the detection policy.
type Mode int

const (
	// ModeLive requires exactly one face in a camera capture.
	ModeLive Mode = iota
	// ModeDocument takes the best face of an ID document photo.
	ModeDocument
)

func (m Mode) String() string {
	if m == ModeDocument {
		return "document"
	}
	return "live"
}

// Selection is the outcome of filtering a frame's detections.
type Selection struct {
	Face      Detection   // chosen face
	Survivors []Detection // every detection left after NMS, score descending
}

// ScoreThreshold returns the minimum detector score for mode.
func (d *Decoder) ScoreThreshold(mode Mode) float64 {
	if mode == ModeDocument {
		return d.cfg.ScoreThresholdDocument
	}
	return d.cfg.ScoreThresholdLive
}

// Select filters dets by score, then size, then NMS, and picks the face for
// mode. Failures are *facematch.Rejection carrying the evidence.
func (d *Decoder) Select(dets []Detection, mode Mode, strict bool) (*Selection, error) {
	threshold := d.ScoreThreshold(mode)

	var best float64
	scored := make([]Detection, 0, len(dets))
	for _, det := range dets {
		best = max(best, det.Score)
		if det.Score >= threshold {
			scored = append(scored, det)
		}
	}
	if len(scored) == 0 {
		return nil, facematch.RejectWithEvidence(constants.IssueNoFace,
			"Position your face in the circle", best, threshold)
	}

	minWidth := d.cfg.MinFaceWidth
	if strict {
		minWidth = d.cfg.MinFaceWidthStrict
	}
	var widest float64
	sized := make([]Detection, 0, len(scored))
	for _, det := range scored {
		widest = max(widest, det.Box.W)
		if det.Box.W >= minWidth {
			sized = append(sized, det)
		}
	}
	if len(sized) == 0 {
		return nil, facematch.RejectWithEvidence(constants.IssueFaceTooSmall,
			"Please move closer to the camera", widest, minWidth)
	}

	fitting := sized[:0:0]
	var largest float64
	for _, det := range sized {
		size := max(det.Box.W, det.Box.H)
		largest = max(largest, size)
		if size <= d.cfg.MaxFaceSize {
			fitting = append(fitting, det)
		}
	}
	if len(fitting) == 0 {
		return nil, facematch.RejectWithEvidence(constants.IssueFaceTooLarge,
			"Please move further from the camera", largest, d.cfg.MaxFaceSize)
	}

	survivors := NMS(fitting, d.cfg.NMSIoUThreshold)
	if mode == ModeLive && len(survivors) > 1 {
		return nil, &facematch.Rejection{
			Code:    constants.IssueMultipleFaces,
			Message: fmt.Sprintf("Multiple faces detected (%d). Please ensure only you are in frame", len(survivors)),
			Value:   float64(len(survivors)),
		}
	}

	return &Selection{Face: survivors[0], Survivors: survivors}, nil
}
