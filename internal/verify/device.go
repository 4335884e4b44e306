package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/quality"
)

// DeviceTracker keeps a rolling capture-quality history per device and
// derives its tier.
type DeviceTracker struct {
	store database.DeviceQualityStore
	cfg   config.DeviceConfig
}

// NewDeviceTracker creates a tracker over store.
func NewDeviceTracker(store database.DeviceQualityStore, cfg config.DeviceConfig) *DeviceTracker {
	return &DeviceTracker{store: store, cfg: cfg}
}

// Tier returns the stored tier of a device, TierUnknown when it has no history.
func (t *DeviceTracker) Tier(ctx context.Context, fingerprint string) (quality.Tier, error) {
	if fingerprint == "" {
		return quality.TierUnknown, nil
	}
	dq, err := t.store.GetDeviceQuality(ctx, fingerprint)
	if err != nil {
		return quality.TierUnknown, fmt.Errorf("get device quality: %w", err)
	}
	if dq == nil {
		return quality.TierUnknown, nil
	}
	return quality.Tier(dq.Tier), nil
}

// Record appends a sample, trims the history and re-derives the averages and tier.
func (t *DeviceTracker) Record(ctx context.Context, fingerprint string, s database.DeviceSample) (*database.DeviceQuality, error) {
	dq, err := t.store.GetDeviceQuality(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("get device quality: %w", err)
	}
	if dq == nil {
		dq = &database.DeviceQuality{Fingerprint: fingerprint}
	}
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}

	dq.Samples = append(dq.Samples, s)
	if n := t.cfg.HistorySize; n > 0 && len(dq.Samples) > n {
		dq.Samples = append([]database.DeviceSample(nil), dq.Samples[len(dq.Samples)-n:]...)
	}
	dq.TotalClockIns++

	var w, v, b, sc float64
	for _, x := range dq.Samples {
		w += x.Width
		v += x.Variance
		b += x.Brightness
		sc += x.Score
	}
	n := float64(len(dq.Samples))
	dq.AvgWidth, dq.AvgVariance, dq.AvgBrightness, dq.AvgScore = w/n, v/n, b/n, sc/n
	dq.Tier = string(ClassifyDevice(t.cfg, dq))

	if err := t.store.SaveDeviceQuality(ctx, dq); err != nil {
		return nil, fmt.Errorf("save device quality: %w", err)
	}
	return dq, nil
}

// ClassifyDevice derives a tier from averaged history. Devices with too
// few samples stay unknown.
func ClassifyDevice(cfg config.DeviceConfig, dq *database.DeviceQuality) quality.Tier {
	if len(dq.Samples) < cfg.MinSamples {
		return quality.TierUnknown
	}
	switch {
	case dq.AvgWidth < cfg.LowWidth || dq.AvgVariance < cfg.LowVariance || dq.AvgScore < cfg.LowScore:
		return quality.TierLow
	case dq.AvgWidth >= cfg.HighWidth && dq.AvgVariance >= cfg.HighVariance && dq.AvgScore >= cfg.HighScore:
		return quality.TierHigh
	default:
		return quality.TierMedium
	}
}
