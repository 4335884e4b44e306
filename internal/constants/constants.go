// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Issue codes reported by the pipeline and the preview endpoint
const (
	IssueNoFace          = "no_face"
	IssueMultipleFaces   = "multiple_faces"
	IssueBlur            = "blur"
	IssueLighting        = "lighting"
	IssueFaceTooSmall    = "face_too_small"
	IssueFaceTooLarge    = "face_too_large"
	IssueQualityTooLow   = "quality_too_low"
	IssueImageTooSmall   = "image_too_small"
	IssueDetectionFailed = "detection_failed"
	IssueAngleTooTilted  = "angle_too_tilted"
)

// Preview constants
const (
	// MinFaceQuality is the minimum detection score for a preview to be ready
	MinFaceQuality = 0.50

	// MaxFaceAngle is the head angle in degrees above which previews advise facing the camera
	MaxFaceAngle = 15.0

	// ExcellentQuality and GoodQuality select the positive preview feedback message
	ExcellentQuality = 0.85
	GoodQuality      = 0.75
)

// Clock event types
const (
	ClockIn  = "in"
	ClockOut = "out"
)

// Processing constants
const (
	// CalibrationWorkers is the default number of parallel workers for pair scoring
	CalibrationWorkers = 8

	// NormalizedTolerance is how far from 1 a vector norm may be before it is re-normalized
	NormalizedTolerance = 0.01
)
