// Package facematch provides the face geometry and rejection types shared by
// the quality gate, detection decoder, embedder and verification packages.
package facematch

import "fmt"

// Point is a 2D coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned face box in pixels with origin at its top-left corner.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Corners returns the box as [x1, y1, x2, y2].
func (b Box) Corners() []float64 {
	return []float64{b.X, b.Y, b.X + b.W, b.Y + b.H}
}

// Center returns the centre of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.W/2, Y: b.Y + b.H/2}
}

// BoxFromCorners builds a Box from corner coordinates.
func BoxFromCorners(x1, y1, x2, y2 float64) Box {
	return Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Rejection is a recoverable capture or detection failure. Value and
// Threshold carry the numeric evidence for diagnostics (zero when unused).
type Rejection struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (r *Rejection) Error() string {
	if r.Threshold != 0 {
		return fmt.Sprintf("%s: %s (value %.2f, threshold %.2f)", r.Code, r.Message, r.Value, r.Threshold)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Reject creates a Rejection without numeric evidence.
func Reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// RejectWithEvidence creates a Rejection carrying the offending value and threshold.
func RejectWithEvidence(code, message string, value, threshold float64) *Rejection {
	return &Rejection{Code: code, Message: message, Value: value, Threshold: threshold}
}
