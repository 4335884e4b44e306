package verify

import (
	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/detection"
)

// Level is a risk level.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Risk factor tags.
const (
	FactorLowSimilarity       = "low_face_similarity"
	FactorPoorQuality         = "poor_image_quality"
	FactorNoRecentHistory     = "no_recent_history"
	FactorUnfamiliarDevice    = "unfamiliar_device"
	FactorInvalidLocation     = "invalid_location"
	FactorImplausibleFeatures = "implausible_landmarks"
)

const (
	factorRiskCutoff   = 0.3
	factorSignalCutoff = 0.1
	plausibilityCutoff = 0.7
)

// Risk is the scored assessment of one clock attempt.
type Risk struct {
	Score     float64  `json:"score"`
	Level     Level    `json:"level"`
	Factors   []string `json:"factors"`
	Escalated bool     `json:"escalated"`
}

// RiskInput carries everything the risk score depends on.
type RiskInput struct {
	Similarity float64
	Threshold  float64
	Quality    float64
	Signals    Signals
	Attributes detection.Attributes
}

// AssessRisk scores an attempt. Severe conditions force at least high risk
// whatever the weighted score says.
func AssessRisk(cfg config.RiskConfig, in RiskInput) Risk {
	w := cfg.Weights
	faceRisk := 1 - clamp01(in.Similarity)
	qualityRisk := 1 - clamp01(in.Quality)
	plausibility := 1.0
	if in.Attributes.Known {
		plausibility = clamp01(in.Attributes.Plausibility)
	}
	locationValid := in.Signals.Location >= 0.5

	score := w.Face*faceRisk +
		w.Quality*qualityRisk +
		w.Temporal*(1-clamp01(in.Signals.Temporal)) +
		w.Device*(1-clamp01(in.Signals.Device)) +
		w.Landmarks*(1-plausibility)
	if !locationValid {
		score += w.Location
	}

	r := Risk{Score: clamp01(score), Factors: []string{}}
	r.Level = levelFor(cfg.Levels, r.Score)

	if faceRisk > factorRiskCutoff {
		r.Factors = append(r.Factors, FactorLowSimilarity)
	}
	if qualityRisk > factorRiskCutoff {
		r.Factors = append(r.Factors, FactorPoorQuality)
	}
	if in.Signals.Temporal < factorSignalCutoff {
		r.Factors = append(r.Factors, FactorNoRecentHistory)
	}
	if in.Signals.Device < factorSignalCutoff {
		r.Factors = append(r.Factors, FactorUnfamiliarDevice)
	}
	if !locationValid {
		r.Factors = append(r.Factors, FactorInvalidLocation)
	}
	if plausibility < plausibilityCutoff {
		r.Factors = append(r.Factors, FactorImplausibleFeatures)
	}

	severe := !locationValid || in.Similarity < in.Threshold || in.Quality < cfg.SevereQuality
	if severe && rank(r.Level) < rank(LevelHigh) {
		r.Level = LevelHigh
		r.Escalated = true
	}
	return r
}

func levelFor(l config.RiskLevels, score float64) Level {
	switch {
	case score >= l.Critical:
		return LevelCritical
	case score >= l.High:
		return LevelHigh
	case score >= l.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func rank(l Level) int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}
