package detection

import (
	"math"

	"github.com/kozaktomas/faceclock/internal/facematch"
)

// Landmark indices in the 5-point layout.
const (
	LeftEye = iota
	RightEye
	Nose
	LeftMouth
	RightMouth
)

// Plausible eye distance as a share of face width.
const (
	minEyeRatio        = 0.20
	maxEyeRatio        = 0.75
	plausibleThreshold = 0.6
)

// Landmarks is an optional set of 5 facial points. The zero value means the
// detector did not provide landmarks.
type Landmarks struct {
	points  [5]facematch.Point
	present bool
}

// NewLandmarks wraps 5 points as present landmarks.
func NewLandmarks(points [5]facematch.Point) Landmarks {
	return Landmarks{points: points, present: true}
}

// Present reports whether landmarks are available.
func (l Landmarks) Present() bool {
	return l.present
}

// Points returns the landmarks and whether they are present.
func (l Landmarks) Points() ([5]facematch.Point, bool) {
	return l.points, l.present
}

// Attributes are landmark-derived facts about a face. With no landmarks
// Known is false and every other field is zero.
type Attributes struct {
	Known            bool    `json:"known"`
	EyeDistanceRatio float64 `json:"eye_distance_ratio,omitempty"`
	RollDegrees      float64 `json:"roll_degrees,omitempty"`
	NoseOffset       float64 `json:"nose_offset,omitempty"` // horizontal nose offset from eye midpoint, in eye distances
	Plausibility     float64 `json:"plausibility,omitempty"`
	Plausible        bool    `json:"plausible"`
}

// Attributes infers face attributes from landmarks relative to box.
func (l Landmarks) Attributes(box facematch.Box) Attributes {
	if !l.present || box.W <= 0 {
		return Attributes{}
	}
	le, re, nose := l.points[LeftEye], l.points[RightEye], l.points[Nose]
	dx, dy := re.X-le.X, re.Y-le.Y
	eyeDist := math.Hypot(dx, dy)

	a := Attributes{
		Known:            true,
		EyeDistanceRatio: eyeDist / box.W,
		RollDegrees:      math.Atan2(dy, dx) * 180 / math.Pi,
		Plausibility:     1,
	}
	if eyeDist > 0 {
		a.NoseOffset = (nose.X - (le.X+re.X)/2) / eyeDist
	}
	if a.EyeDistanceRatio < minEyeRatio || a.EyeDistanceRatio > maxEyeRatio {
		a.Plausibility -= 0.3
	}
	if math.Abs(a.NoseOffset) > 0.5 {
		a.Plausibility -= 0.2
	}
	if math.Abs(a.RollDegrees) > 30 {
		a.Plausibility -= 0.2
	}
	a.Plausible = a.Plausibility >= plausibleThreshold
	return a
}
