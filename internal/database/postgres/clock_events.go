package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kozaktomas/faceclock/internal/database"
)

const clockEventColumns = `id, staff_id, clock_type, ts, similarity, threshold, matched, confidence,
	device_fingerprint, location_valid, face_signal, temporal_signal, device_signal, location_signal,
	risk_score, risk_level, risk_factors, warnings, created_at`

// ClockEventRepository stores clock attempts.
type ClockEventRepository struct {
	pool *Pool
}

// NewClockEventRepository creates a new PostgreSQL clock event repository.
func NewClockEventRepository(pool *Pool) *ClockEventRepository {
	return &ClockEventRepository{pool: pool}
}

// SaveClockEvent stores an event, assigning an ID when empty.
func (r *ClockEventRepository) SaveClockEvent(ctx context.Context, e *database.ClockEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO clock_events (`+clockEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, e.ID, e.StaffID, e.ClockType, e.Timestamp, e.Similarity, e.Threshold, e.Matched, e.Confidence,
		e.DeviceFingerprint, e.LocationValid, e.FaceSignal, e.TemporalSignal, e.DeviceSignal, e.LocationSignal,
		e.RiskScore, e.RiskLevel, pq.Array(nonNil(e.RiskFactors)), pq.Array(nonNil(e.Warnings)), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert clock event: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanClockEvents(rows *sql.Rows) ([]database.ClockEvent, error) {
	var events []database.ClockEvent
	for rows.Next() {
		var (
			e                 database.ClockEvent
			factors, warnings pq.StringArray
		)
		if err := rows.Scan(&e.ID, &e.StaffID, &e.ClockType, &e.Timestamp, &e.Similarity, &e.Threshold,
			&e.Matched, &e.Confidence, &e.DeviceFingerprint, &e.LocationValid, &e.FaceSignal,
			&e.TemporalSignal, &e.DeviceSignal, &e.LocationSignal, &e.RiskScore, &e.RiskLevel,
			&factors, &warnings, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clock event: %w", err)
		}
		e.RiskFactors = factors
		e.Warnings = warnings
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clock events: %w", err)
	}
	return events, nil
}

// ListClockEvents returns the newest events of a staff member.
func (r *ClockEventRepository) ListClockEvents(ctx context.Context, staffID string, limit int) ([]database.ClockEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+clockEventColumns+`
		FROM clock_events
		WHERE staff_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, staffID, limit)
	if err != nil {
		return nil, fmt.Errorf("list clock events: %w", err)
	}
	defer rows.Close()
	return scanClockEvents(rows)
}

// RecentMatchedEvents returns matched events of a staff member since the given time, newest first.
func (r *ClockEventRepository) RecentMatchedEvents(
	ctx context.Context, staffID string, since time.Time, limit int,
) ([]database.ClockEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+clockEventColumns+`
		FROM clock_events
		WHERE staff_id = $1 AND matched AND ts >= $2
		ORDER BY ts DESC
		LIMIT $3
	`, staffID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()
	return scanClockEvents(rows)
}

// CountDeviceMatches counts matched events of a staff member from one device since the given time.
func (r *ClockEventRepository) CountDeviceMatches(
	ctx context.Context, staffID, fingerprint string, since time.Time,
) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM clock_events
		WHERE staff_id = $1 AND device_fingerprint = $2 AND matched AND ts >= $3
	`, staffID, fingerprint, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count device matches: %w", err)
	}
	return count, nil
}
