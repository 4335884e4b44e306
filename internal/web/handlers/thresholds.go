package handlers

import (
	"net/http"

	"github.com/kozaktomas/faceclock/internal/config"
)

// Threshold sources reported by the thresholds endpoint.
const (
	ThresholdSourceEmbedded = "embedded"
	ThresholdSourceProfile  = "profile"
)

// ThresholdsHandler exposes the active verification thresholds
type ThresholdsHandler struct {
	cfg    config.VerificationConfig
	source string
}

// NewThresholdsHandler creates a new thresholds handler
func NewThresholdsHandler(cfg config.VerificationConfig, source string) *ThresholdsHandler {
	return &ThresholdsHandler{cfg: cfg, source: source}
}

// ThresholdsResponse represents the active threshold profile
type ThresholdsResponse struct {
	Source                 string  `json:"source"`
	Daily                  float64 `json:"daily"`
	Enrollment             float64 `json:"enrollment"`
	EnrollmentLowTier      float64 `json:"enrollment_low_tier"`
	SameDevice             float64 `json:"same_device"`
	IdentifyHighConfidence float64 `json:"identify_high_confidence"`
	IdentifyMinGap         float64 `json:"identify_min_gap"`
}

// Get returns the thresholds the verifier is running with
func (h *ThresholdsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ThresholdsResponse{
		Source:                 h.source,
		Daily:                  h.cfg.DailyThreshold,
		Enrollment:             h.cfg.EnrollmentThreshold,
		EnrollmentLowTier:      h.cfg.EnrollmentThresholdLowTier,
		SameDevice:             h.cfg.SameDeviceThreshold,
		IdentifyHighConfidence: h.cfg.IdentifyHighConfidence,
		IdentifyMinGap:         h.cfg.IdentifyMinGap,
	})
}
