// Package verify decides whether a clock-in face matches an enrolled staff
// member and scores the risk of the attempt.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/detection"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/enrollment"
	"github.com/kozaktomas/faceclock/internal/pipeline"
	"github.com/kozaktomas/faceclock/internal/quality"
)

var (
	// ErrStaffNotFound is returned when a claimed staff member does not exist.
	ErrStaffNotFound = errors.New("staff not found")
	// ErrNoTemplates is returned when identification has nobody to compare against.
	ErrNoTemplates = errors.New("no enrolled staff")
)

// FrameProcessor turns an encoded image into an embedding.
type FrameProcessor interface {
	ProcessBytes(ctx context.Context, data []byte, opts pipeline.Options) (*pipeline.FrameResult, error)
}

// Identification is the outcome of a 1:N search.
type Identification struct {
	Best       *database.TemplateMatch  `json:"best,omitempty"`
	Second     *database.TemplateMatch  `json:"second,omitempty"`
	Gap        float64                  `json:"gap"`
	Accepted   bool                     `json:"accepted"`
	Candidates []database.TemplateMatch `json:"candidates"`
}

// ClockRequest is one clock attempt.
type ClockRequest struct {
	Image         []byte
	ClockType     string
	StaffID       string // claimed identity; empty means identify
	LocationValid bool
	Fingerprint   string
	At            time.Time
}

// ClockResult is the verification outcome. A mismatch is a result, not an error.
type ClockResult struct {
	EventID        string          `json:"event_id"`
	Matched        bool            `json:"matched"`
	StaffID        string          `json:"staff_id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Similarity     float64         `json:"similarity"`
	Threshold      float64         `json:"threshold"`
	DocumentCheck  *DocumentCheck  `json:"document_check,omitempty"`
	Context        Context         `json:"context"`
	FrameQuality   float64         `json:"frame_quality"`
	Confidence     float64         `json:"confidence"`
	Signals        Signals         `json:"signals"`
	Risk           Risk            `json:"risk"`
	Identification *Identification `json:"identification,omitempty"`
	Warnings       []string        `json:"warnings"`
}

// DocumentCheck compares a face against the identity document photo
// captured at enrollment.
type DocumentCheck struct {
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Matched    bool    `json:"matched"`
}

// Verifier runs clock attempts against enrolled templates.
type Verifier struct {
	proc     FrameProcessor
	staff    database.StaffReader
	searcher database.TemplateSearcher
	events   database.ClockEventWriter
	devices  *DeviceTracker
	cfg      config.PipelineConfig
	now      func() time.Time
}

// NewVerifier creates a verifier. devices may be nil to skip device tracking.
func NewVerifier(
	proc FrameProcessor,
	staff database.StaffReader,
	searcher database.TemplateSearcher,
	events database.ClockEventWriter,
	devices *DeviceTracker,
	cfg config.PipelineConfig,
) *Verifier {
	return &Verifier{
		proc:     proc,
		staff:    staff,
		searcher: searcher,
		events:   events,
		devices:  devices,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Thresholds returns the active verification thresholds.
func (v *Verifier) Thresholds() config.VerificationConfig {
	return v.cfg.Verification
}

// Identify finds the best staff template for an embedding. The best match is
// accepted when it clears threshold and either is highly confident or leads
// the runner-up by the required gap.
func (v *Verifier) Identify(ctx context.Context, vec []float32, threshold float64) (*Identification, error) {
	vc := v.cfg.Verification
	candidates, err := v.searcher.SearchTemplates(ctx, vec, max(vc.IdentifyCandidates, 2))
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoTemplates
	}

	id := &Identification{Candidates: candidates, Best: &candidates[0], Gap: candidates[0].Similarity}
	if len(candidates) > 1 {
		id.Second = &candidates[1]
		id.Gap = candidates[0].Similarity - candidates[1].Similarity
	}
	best := id.Best.Similarity
	id.Accepted = best >= threshold && (best >= vc.IdentifyHighConfidence || id.Gap >= vc.IdentifyMinGap)
	return id, nil
}

// FindDuplicate reports an enrolled staff member whose template clears the
// enrollment threshold against vec.
func (v *Verifier) FindDuplicate(ctx context.Context, vec []float32) (*enrollment.Duplicate, error) {
	candidates, err := v.searcher.SearchTemplates(ctx, vec, 1)
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	if len(candidates) == 0 || candidates[0].Similarity < v.cfg.Verification.EnrollmentThreshold {
		return nil, nil
	}
	c := candidates[0]
	return &enrollment.Duplicate{StaffID: c.StaffID, Name: c.Name, Similarity: c.Similarity}, nil
}

// DocumentThreshold returns the bar a new template must clear against the
// document photo, given the document frame quality.
func (v *Verifier) DocumentThreshold(frameQuality float64) float64 {
	return Threshold(v.cfg.Verification, ContextEnrollment, FrameTier(frameQuality))
}

// CheckDocument compares vec with a document embedding at the given
// threshold. It returns nil when there is no document to compare against.
func CheckDocument(vec, document []float32, threshold float64) *DocumentCheck {
	if len(document) == 0 {
		return nil
	}
	sim := embedding.CosineSimilarity(vec, document)
	return &DocumentCheck{Similarity: sim, Threshold: threshold, Matched: sim >= threshold}
}

// Clock verifies one attempt and records it. Capture rejections are returned
// as *facematch.Rejection and are not recorded.
func (v *Verifier) Clock(ctx context.Context, req ClockRequest) (*ClockResult, error) {
	at := req.At
	if at.IsZero() {
		at = v.now()
	}

	tier := v.deviceTier(ctx, req.Fingerprint)
	frame, err := v.proc.ProcessBytes(ctx, req.Image, pipeline.Options{Mode: detection.ModeLive, DeviceTier: tier})
	if err != nil {
		return nil, err
	}
	frameTier := FrameTier(frame.Quality)

	res := &ClockResult{FrameQuality: frame.Quality, Warnings: []string{}}
	var subject *database.Staff
	identified := true

	if req.StaffID != "" {
		s, err := v.staff.GetStaff(ctx, req.StaffID)
		if err != nil {
			return nil, fmt.Errorf("get staff: %w", err)
		}
		if s == nil {
			return nil, fmt.Errorf("%w: %s", ErrStaffNotFound, req.StaffID)
		}
		subject = s
		res.StaffID = s.ID
		res.Similarity = embedding.CosineSimilarity(frame.Embedding, s.Template)
	} else {
		// Identification uses the daily bar; the final threshold is applied below.
		id, err := v.Identify(ctx, frame.Embedding, Threshold(v.cfg.Verification, ContextDaily, frameTier))
		if err != nil {
			return nil, err
		}
		res.Identification = id
		res.Similarity = id.Best.Similarity
		identified = id.Accepted
		// An ambiguous search names nobody; the candidates stay on Identification.
		if identified {
			subject, err = v.staff.GetStaff(ctx, id.Best.StaffID)
			if err != nil {
				return nil, fmt.Errorf("get staff: %w", err)
			}
			if subject == nil {
				subject = &database.Staff{ID: id.Best.StaffID, Name: id.Best.Name}
			}
			res.StaffID = subject.ID
		}
	}

	deviceMatches := v.deviceMatches(ctx, res.StaffID, req.Fingerprint, at)
	res.Context = ContextDaily
	if deviceMatches > 0 {
		res.Context = ContextSameDevice
	}
	res.Threshold = Threshold(v.cfg.Verification, res.Context, frameTier)
	res.Matched = identified && res.Similarity >= res.Threshold
	if res.Matched {
		res.Name = subject.Name
	}

	res.Signals = Signals{
		Face:     clamp01(res.Similarity),
		Temporal: v.temporal(ctx, res.StaffID, res.Similarity, at),
		Device:   DeviceSignal(v.cfg.Verification, deviceMatches),
		Location: LocationSignal(req.LocationValid),
	}
	res.Confidence = Fuse(v.cfg.Verification.Fusion, res.Signals)
	res.Risk = AssessRisk(v.cfg.Risk, RiskInput{
		Similarity: res.Similarity,
		Threshold:  res.Threshold,
		Quality:    frame.Quality,
		Signals:    res.Signals,
		Attributes: frame.Attributes,
	})

	if w := TimeWarning(v.cfg.Attendance, req.ClockType, at); w != "" {
		res.Warnings = append(res.Warnings, w)
	}
	if frame.Assessment != nil {
		res.Warnings = append(res.Warnings, frame.Assessment.Warnings...)
	}
	if !identified {
		res.Warnings = append(res.Warnings, "identification ambiguous between similar staff")
	}
	if res.Matched {
		res.DocumentCheck = CheckDocument(frame.Embedding, subject.DocumentEmbedding,
			Threshold(v.cfg.Verification, ContextDaily, frameTier))
		if dc := res.DocumentCheck; dc != nil && !dc.Matched {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("face does not match identity document (similarity %.2f)", dc.Similarity))
		}
	}

	event := &database.ClockEvent{
		StaffID:           res.StaffID,
		ClockType:         req.ClockType,
		Timestamp:         at,
		Similarity:        res.Similarity,
		Threshold:         res.Threshold,
		Matched:           res.Matched,
		Confidence:        res.Confidence,
		DeviceFingerprint: req.Fingerprint,
		LocationValid:     req.LocationValid,
		FaceSignal:        res.Signals.Face,
		TemporalSignal:    res.Signals.Temporal,
		DeviceSignal:      res.Signals.Device,
		LocationSignal:    res.Signals.Location,
		RiskScore:         res.Risk.Score,
		RiskLevel:         string(res.Risk.Level),
		RiskFactors:       res.Risk.Factors,
		Warnings:          res.Warnings,
	}
	if err := v.events.SaveClockEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("save clock event: %w", err)
	}
	res.EventID = event.ID

	v.recordDevice(ctx, req.Fingerprint, frame, at)

	log.Printf("Clock %s: staff=%s matched=%v similarity=%.3f threshold=%.2f (%s) risk=%s",
		req.ClockType, res.StaffID, res.Matched, res.Similarity, res.Threshold, res.Context, res.Risk.Level)
	return res, nil
}

func (v *Verifier) deviceTier(ctx context.Context, fingerprint string) quality.Tier {
	if v.devices == nil {
		return quality.TierUnknown
	}
	tier, err := v.devices.Tier(ctx, fingerprint)
	if err != nil {
		log.Printf("WARNING: device tier lookup failed: %v", err)
		return quality.TierUnknown
	}
	return tier
}

func (v *Verifier) deviceMatches(ctx context.Context, staffID, fingerprint string, at time.Time) int {
	if fingerprint == "" || staffID == "" {
		return 0
	}
	since := at.Add(-time.Duration(v.cfg.Verification.DeviceWindowDays) * 24 * time.Hour)
	n, err := v.events.CountDeviceMatches(ctx, staffID, fingerprint, since)
	if err != nil {
		log.Printf("WARNING: device history lookup failed: %v", err)
		return 0
	}
	return n
}

func (v *Verifier) temporal(ctx context.Context, staffID string, similarity float64, at time.Time) float64 {
	vc := v.cfg.Verification
	if staffID == "" || similarity < vc.TemporalMinSimilarity {
		return 0
	}
	since := at.Add(-time.Duration(vc.TemporalWindowHours) * time.Hour)
	events, err := v.events.RecentMatchedEvents(ctx, staffID, since, vc.TemporalLimit)
	if err != nil {
		log.Printf("WARNING: recent events lookup failed: %v", err)
		return 0
	}
	return TemporalSignal(vc, similarity, events, at)
}

func (v *Verifier) recordDevice(ctx context.Context, fingerprint string, frame *pipeline.FrameResult, at time.Time) {
	if v.devices == nil || fingerprint == "" || frame.Assessment == nil {
		return
	}
	a := frame.Assessment
	_, err := v.devices.Record(ctx, fingerprint, database.DeviceSample{
		Width:      float64(a.Width),
		Variance:   a.Variance,
		Brightness: a.Brightness,
		Score:      frame.Quality,
		At:         at,
	})
	if err != nil {
		log.Printf("WARNING: device quality update failed: %v", err)
	}
}
