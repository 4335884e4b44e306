package verify

import (
	"fmt"
	"time"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
)

// TimeWarning returns a warning for a clock-in outside the expected window,
// or "". The expected time is interpreted in at's location.
func TimeWarning(cfg config.AttendanceConfig, clockType string, at time.Time) string {
	if clockType != constants.ClockIn || cfg.ClockInExpected == "" {
		return ""
	}
	expected, err := time.Parse("15:04", cfg.ClockInExpected)
	if err != nil {
		return ""
	}

	target := time.Date(at.Year(), at.Month(), at.Day(), expected.Hour(), expected.Minute(), 0, 0, at.Location())
	tolerance := time.Duration(cfg.ToleranceMinutes) * time.Minute
	diff := at.Sub(target)
	if diff < -tolerance || diff > tolerance {
		return fmt.Sprintf("unusual clock-in time %s (expected %s ± %d min)",
			at.Format("15:04"), cfg.ClockInExpected, cfg.ToleranceMinutes)
	}
	return ""
}
