package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/verify"
)

// Clocker verifies clock attempts.
type Clocker interface {
	Clock(ctx context.Context, req verify.ClockRequest) (*verify.ClockResult, error)
}

// ClockHandler handles clock-in and clock-out attempts.
type ClockHandler struct {
	clocker   Clocker
	deviceKey string
}

// NewClockHandler creates a new clock handler. deviceKey signs device fingerprints.
func NewClockHandler(c Clocker, deviceKey string) *ClockHandler {
	return &ClockHandler{clocker: c, deviceKey: deviceKey}
}

// Clock verifies a face against the claimed or best matching staff member.
// A mismatch is a normal 200 response with matched=false.
func (h *ClockHandler) Clock(w http.ResponseWriter, r *http.Request) {
	data, err := readImageField(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	clockType := strings.ToLower(strings.TrimSpace(r.FormValue("clock_type")))
	if clockType == "" {
		clockType = constants.ClockIn
	}
	if clockType != constants.ClockIn && clockType != constants.ClockOut {
		respondError(w, http.StatusBadRequest, "clock_type must be 'in' or 'out'")
		return
	}

	// Clients without geofencing omit the field.
	locationValid := true
	if v := r.FormValue("location_valid"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "location_valid must be a boolean")
			return
		}
		locationValid = parsed
	}

	res, err := h.clocker.Clock(r.Context(), verify.ClockRequest{
		Image:         data,
		ClockType:     clockType,
		StaffID:       strings.TrimSpace(r.FormValue("staff_id")),
		LocationValid: locationValid,
		Fingerprint:   verify.Fingerprint(h.deviceKey, r.Header),
	})
	switch {
	case errors.Is(err, verify.ErrStaffNotFound):
		respondError(w, http.StatusNotFound, "staff not found")
		return
	case errors.Is(err, verify.ErrNoTemplates):
		respondError(w, http.StatusConflict, "no staff enrolled yet")
		return
	case err != nil:
		respondProcessingError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ClockEventResponse represents a stored clock event in API responses
type ClockEventResponse struct {
	ID          string   `json:"id"`
	ClockType   string   `json:"clock_type"`
	Timestamp   string   `json:"timestamp"`
	Matched     bool     `json:"matched"`
	Similarity  float64  `json:"similarity"`
	Threshold   float64  `json:"threshold"`
	Confidence  float64  `json:"confidence"`
	RiskScore   float64  `json:"risk_score"`
	RiskLevel   string   `json:"risk_level"`
	RiskFactors []string `json:"risk_factors"`
	Warnings    []string `json:"warnings"`
}

// Events returns the most recent clock events of a staff member.
func (h *ClockHandler) Events(w http.ResponseWriter, r *http.Request) {
	s := lookupStaff(w, r)
	if s == nil {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = constants.DefaultClockEventLimit
	}

	events, err := database.GetClockEventWriter(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	list, err := events.ListClockEvents(r.Context(), s.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clock events")
		return
	}

	response := make([]ClockEventResponse, len(list))
	for i, e := range list {
		response[i] = ClockEventResponse{
			ID:          e.ID,
			ClockType:   e.ClockType,
			Timestamp:   e.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
			Matched:     e.Matched,
			Similarity:  e.Similarity,
			Threshold:   e.Threshold,
			Confidence:  e.Confidence,
			RiskScore:   e.RiskScore,
			RiskLevel:   e.RiskLevel,
			RiskFactors: nonNil(e.RiskFactors),
			Warnings:    nonNil(e.Warnings),
		}
	}
	respondJSON(w, http.StatusOK, response)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
