package verify

import (
	"math"
	"time"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
)

// Signals are the independent evidence sources of a clock attempt, each in [0,1].
type Signals struct {
	Face     float64 `json:"face"`
	Temporal float64 `json:"temporal"`
	Device   float64 `json:"device"`
	Location float64 `json:"location"`
}

// TemporalSignal averages the confidence of recent matched events, each
// decayed linearly to zero over the window. Weak face matches get no credit.
func TemporalSignal(cfg config.VerificationConfig, similarity float64, events []database.ClockEvent, now time.Time) float64 {
	if similarity < cfg.TemporalMinSimilarity || len(events) == 0 {
		return 0
	}
	window := float64(cfg.TemporalWindowHours)
	if window <= 0 {
		return 0
	}

	var sum float64
	for _, e := range events {
		hours := now.Sub(e.Timestamp).Hours()
		decay := math.Max(0, 1-hours/window)
		sum += clamp01(e.Confidence) * math.Min(decay, 1)
	}
	return clamp01(sum / float64(len(events)))
}

// DeviceSignal grows with the number of recent matches from the same device.
func DeviceSignal(cfg config.VerificationConfig, matches int) float64 {
	if cfg.DeviceLimit <= 0 {
		return 0
	}
	return clamp01(float64(matches) / float64(cfg.DeviceLimit))
}

// LocationSignal is 1 for a valid location.
func LocationSignal(valid bool) float64 {
	if valid {
		return 1
	}
	return 0
}

// Fuse combines the signals into a single confidence.
func Fuse(w config.FusionConfig, s Signals) float64 {
	return clamp01(w.Face*clamp01(s.Face) + w.Temporal*s.Temporal + w.Device*s.Device + w.Location*s.Location)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
