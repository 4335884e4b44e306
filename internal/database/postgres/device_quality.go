package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/faceclock/internal/database"
)

// DeviceQualityRepository stores per-device capture history.
type DeviceQualityRepository struct {
	pool *Pool
}

// NewDeviceQualityRepository creates a new PostgreSQL device quality repository.
func NewDeviceQualityRepository(pool *Pool) *DeviceQualityRepository {
	return &DeviceQualityRepository{pool: pool}
}

// GetDeviceQuality returns the history of a device, nil if unknown.
func (r *DeviceQualityRepository) GetDeviceQuality(ctx context.Context, fingerprint string) (*database.DeviceQuality, error) {
	var (
		dq      database.DeviceQuality
		samples []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT fingerprint, samples, avg_width, avg_variance, avg_brightness, avg_score,
		       tier, total_clock_ins, updated_at
		FROM device_quality
		WHERE fingerprint = $1
	`, fingerprint).Scan(&dq.Fingerprint, &samples, &dq.AvgWidth, &dq.AvgVariance, &dq.AvgBrightness,
		&dq.AvgScore, &dq.Tier, &dq.TotalClockIns, &dq.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device quality: %w", err)
	}
	if err := json.Unmarshal(samples, &dq.Samples); err != nil {
		return nil, fmt.Errorf("decode device samples: %w", err)
	}
	return &dq, nil
}

// SaveDeviceQuality upserts the history of a device.
func (r *DeviceQualityRepository) SaveDeviceQuality(ctx context.Context, dq *database.DeviceQuality) error {
	samples := dq.Samples
	if samples == nil {
		samples = []database.DeviceSample{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encode device samples: %w", err)
	}
	dq.UpdatedAt = time.Now().UTC()

	_, err = r.pool.Exec(ctx, `
		INSERT INTO device_quality (fingerprint, samples, avg_width, avg_variance, avg_brightness,
		                            avg_score, tier, total_clock_ins, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint) DO UPDATE SET
			samples = EXCLUDED.samples,
			avg_width = EXCLUDED.avg_width,
			avg_variance = EXCLUDED.avg_variance,
			avg_brightness = EXCLUDED.avg_brightness,
			avg_score = EXCLUDED.avg_score,
			tier = EXCLUDED.tier,
			total_clock_ins = EXCLUDED.total_clock_ins,
			updated_at = EXCLUDED.updated_at
	`, dq.Fingerprint, data, dq.AvgWidth, dq.AvgVariance, dq.AvgBrightness, dq.AvgScore,
		dq.Tier, dq.TotalClockIns, dq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save device quality: %w", err)
	}
	return nil
}

// RegisterBackends creates the repositories on pool and registers them with the database package.
func RegisterBackends(pool *Pool) *StaffRepository {
	staffRepo := NewStaffRepository(pool)
	eventRepo := NewClockEventRepository(pool)
	deviceRepo := NewDeviceQualityRepository(pool)

	database.RegisterPostgresBackend(
		func() database.StaffWriter { return staffRepo },
		func() database.ClockEventWriter { return eventRepo },
		func() database.DeviceQualityStore { return deviceRepo },
	)
	database.RegisterTemplateIndex(func() database.TemplateSearcher { return staffRepo }, staffRepo)
	return staffRepo
}
