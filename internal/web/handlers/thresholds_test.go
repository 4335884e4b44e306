package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/database"
)

func TestThresholdsGet(t *testing.T) {
	cfg := config.DefaultPipeline().Verification
	h := NewThresholdsHandler(cfg, ThresholdSourceEmbedded)

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/thresholds", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result ThresholdsResponse
	parseJSONResponse(t, recorder, &result)
	if result.Source != ThresholdSourceEmbedded {
		t.Errorf("expected embedded source, got %q", result.Source)
	}
	if result.Daily != 0.70 || result.Enrollment != 0.75 || result.SameDevice != 0.68 {
		t.Errorf("unexpected thresholds %+v", result)
	}
}

type fakeRebuilder struct {
	count   int
	rebuilt bool
	saveErr error
}

func (f *fakeRebuilder) RebuildIndex(_ context.Context) error {
	f.rebuilt = true
	f.count = 3
	return nil
}

func (f *fakeRebuilder) IndexCount() int { return f.count }

func (f *fakeRebuilder) SaveIndex() error { return f.saveErr }

func TestStatsGet(t *testing.T) {
	b := setupMockBackends(t)
	seedStaff(b)
	database.RegisterTemplateIndex(func() database.TemplateSearcher { return b.staff }, &fakeRebuilder{count: 3})
	h := NewStatsHandler()

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result StatsResponse
	parseJSONResponse(t, recorder, &result)
	if result.Staff != 3 || result.IndexedTemplates != 3 {
		t.Errorf("unexpected stats %+v", result)
	}

	// Served from cache until invalidated.
	b.staff.AddStaff(database.Staff{ID: "s4", Name: "Nový"})
	recorder = httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	parseJSONResponse(t, recorder, &result)
	if result.Staff != 3 {
		t.Errorf("expected cached count 3, got %d", result.Staff)
	}
}

func TestRebuildIndex(t *testing.T) {
	b := setupMockBackends(t)
	r := &fakeRebuilder{saveErr: errors.New("disk full")}
	database.RegisterTemplateIndex(func() database.TemplateSearcher { return b.staff }, r)
	h := NewStatsHandler()

	recorder := httptest.NewRecorder()
	h.RebuildIndex(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	if !r.rebuilt {
		t.Error("expected index rebuild")
	}
	var result map[string]any
	parseJSONResponse(t, recorder, &result)
	if result["templates"] != float64(3) {
		t.Errorf("expected 3 templates, got %v", result["templates"])
	}
	if result["warning"] == nil {
		t.Error("expected warning when saving fails")
	}
}

func TestRebuildIndex_NotRegistered(t *testing.T) {
	setupMockBackends(t)
	h := NewStatsHandler()

	recorder := httptest.NewRecorder()
	h.RebuildIndex(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
