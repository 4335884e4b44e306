package verify

import (
	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/quality"
)

// Context selects which similarity threshold applies.
type Context string

const (
	ContextEnrollment Context = "enrollment"
	ContextDaily      Context = "daily"
	ContextSameDevice Context = "same_device"
)

// Frame quality tier boundaries.
const (
	highQualityFrame = 0.85
	lowQualityFrame  = 0.70
)

// FrameTier buckets a combined frame quality score.
func FrameTier(frameQuality float64) quality.Tier {
	switch {
	case frameQuality >= highQualityFrame:
		return quality.TierHigh
	case frameQuality < lowQualityFrame:
		return quality.TierLow
	default:
		return quality.TierMedium
	}
}

// Threshold returns the similarity a match must reach. Low-quality frames
// relax the enrollment bar and never get the same-device discount.
func Threshold(cfg config.VerificationConfig, c Context, tier quality.Tier) float64 {
	switch c {
	case ContextEnrollment:
		if tier == quality.TierLow {
			return cfg.EnrollmentThresholdLowTier
		}
		return cfg.EnrollmentThreshold
	case ContextSameDevice:
		if tier == quality.TierLow {
			return cfg.DailyThreshold
		}
		return cfg.SameDeviceThreshold
	default:
		return cfg.DailyThreshold
	}
}
