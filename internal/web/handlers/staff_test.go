package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/enrollment"
)

// enrollmentResult mimics a registration where photo 2 of 4 had no face.
func enrollmentResult() *enrollment.Result {
	return &enrollment.Result{
		Template: &enrollment.Template{
			Vector:    []float32{0.6, 0.8},
			Weights:   []float64{0.4, 0.3, 0.3},
			Norm:      0.97,
			Sources:   3,
			Attempted: 4,
			Indices:   []int{0, 1, 3},
		},
		Embeddings: [][]float32{{0.6, 0.8}, {0.62, 0.78}, {0.58, 0.81}},
		DetScores:  []float64{0.9, 0.8, 0.85},
		Outcomes: []enrollment.Outcome{
			{Index: 0, OK: true, DetScore: 0.9, Quality: 0.88},
			{Index: 1, OK: true, DetScore: 0.8, Quality: 0.7},
			{Index: 2, Code: constants.IssueNoFace, Message: "no face detected"},
			{Index: 3, OK: true, DetScore: 0.85, Quality: 0.8},
		},
		DocumentEmbedding: []float32{0.5, 0.86},
		Note:              "3/4 embeddings",
	}
}

func photos(n int) map[string][][]byte {
	files := make([][]byte, n)
	for i := range files {
		files[i] = []byte(fmt.Sprintf("photo-%d", i))
	}
	return map[string][][]byte{"photos": files, "document": {[]byte("id-card")}}
}

func TestStaffCreate(t *testing.T) {
	b := setupMockBackends(t)
	e := &fakeEnroller{res: enrollmentResult()}
	h := NewStaffHandler(e)

	req := multipartRequest(t, "/api/v1/staff", map[string]string{"name": "  Jana Nováková "}, photos(4))
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)
	if len(e.req.Photos) != 4 || string(e.req.Photos[3]) != "photo-3" {
		t.Errorf("expected 4 photos in upload order, got %d", len(e.req.Photos))
	}
	if string(e.req.Document) != "id-card" {
		t.Errorf("expected document to be forwarded, got %q", e.req.Document)
	}

	var result struct {
		Staff  StaffResponse `json:"staff"`
		Result struct {
			Note string `json:"note"`
		} `json:"result"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Staff.Name != "Jana Nováková" || result.Staff.ID == "" {
		t.Errorf("unexpected staff %+v", result.Staff)
	}
	if !result.Staff.HasDocument || result.Staff.TemplateSources != 3 {
		t.Errorf("expected document and 3 sources, got %+v", result.Staff)
	}
	if result.Result.Note != "3/4 embeddings" {
		t.Errorf("expected note '3/4 embeddings', got %q", result.Result.Note)
	}

	stored, err := b.staff.GetEmbeddings(context.Background(), result.Staff.ID)
	if err != nil {
		t.Fatalf("GetEmbeddings failed: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 stored embeddings, got %d", len(stored))
	}
	// Photo 2 failed, so the third embedding came from position 3.
	if stored[2].Position != 3 || stored[2].Quality != 0.8 || stored[2].DetScore != 0.85 {
		t.Errorf("unexpected third embedding %+v", stored[2])
	}
}

func TestStaffCreate_QuorumNotMet(t *testing.T) {
	setupMockBackends(t)
	res := &enrollment.Result{
		Outcomes: []enrollment.Outcome{{Index: 0, Code: constants.IssueBlur}, {Index: 1, OK: true}},
		Note:     "1/2 embeddings",
	}
	h := NewStaffHandler(&fakeEnroller{res: res, err: fmt.Errorf("%w: 1/2 succeeded, minimum 3", enrollment.ErrQuorumNotMet)})

	req := multipartRequest(t, "/api/v1/staff", map[string]string{"name": "Petr"}, photos(2))
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	var result registrationFailure
	parseJSONResponse(t, recorder, &result)
	if result.Result == nil || len(result.Result.Outcomes) != 2 {
		t.Fatalf("expected per-photo diagnostics, got %+v", result.Result)
	}
	if result.Result.Outcomes[0].Code != constants.IssueBlur {
		t.Errorf("expected blur outcome, got %q", result.Result.Outcomes[0].Code)
	}
}

func TestStaffCreate_DocumentMismatch(t *testing.T) {
	setupMockBackends(t)
	res := &enrollment.Result{
		Outcomes:      []enrollment.Outcome{{Index: 0, OK: true}, {Index: 1, OK: true}, {Index: 2, OK: true}},
		DocumentMatch: &enrollment.Similarity{Similarity: 0.31, Threshold: 0.75},
		Note:          "3/3 embeddings",
	}
	err := fmt.Errorf("%w: similarity 0.31 below 0.75", enrollment.ErrDocumentMismatch)
	h := NewStaffHandler(&fakeEnroller{res: res, err: err})

	req := multipartRequest(t, "/api/v1/staff", map[string]string{"name": "Petr"}, photos(3))
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	var result registrationFailure
	parseJSONResponse(t, recorder, &result)
	if result.Result == nil || result.Result.DocumentMatch == nil || result.Result.DocumentMatch.Matched {
		t.Fatalf("expected the failed document comparison in the body, got %+v", result.Result)
	}
}

func TestStaffCreate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]string
		files   map[string][][]byte
		message string
	}{
		{"missing name", map[string]string{"name": "  "}, photos(3), "name is required"},
		{"no photos", map[string]string{"name": "Petr"}, nil, "no photos provided"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setupMockBackends(t)
			h := NewStaffHandler(&fakeEnroller{})
			recorder := httptest.NewRecorder()
			h.Create(recorder, multipartRequest(t, "/api/v1/staff", tc.fields, tc.files))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestStaffCreate_StoreFailure(t *testing.T) {
	b := setupMockBackends(t)
	b.staff.CreateError = errors.New("connection reset")
	h := NewStaffHandler(&fakeEnroller{res: enrollmentResult()})

	recorder := httptest.NewRecorder()
	h.Create(recorder, multipartRequest(t, "/api/v1/staff", map[string]string{"name": "Petr"}, photos(4)))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestStaffCreate_NoDatabase(t *testing.T) {
	database.ResetForTesting()
	h := NewStaffHandler(&fakeEnroller{res: enrollmentResult()})

	recorder := httptest.NewRecorder()
	h.Create(recorder, multipartRequest(t, "/api/v1/staff", map[string]string{"name": "Petr"}, photos(4)))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func seedStaff(b *mockBackends) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b.staff.AddStaff(database.Staff{ID: "s1", Name: "Jana Nováková", Template: []float32{1, 0}, TemplateWeights: []float64{0.5, 0.5}, CreatedAt: now})
	b.staff.AddStaff(database.Staff{ID: "s2", Name: "Petr Svoboda", Template: []float32{0, 1}, CreatedAt: now})
	b.staff.AddStaff(database.Staff{ID: "s3", Name: "Eva Černá", Template: []float32{0.6, 0.8}, CreatedAt: now})
}

func TestStaffList(t *testing.T) {
	b := setupMockBackends(t)
	seedStaff(b)
	h := NewStaffHandler(&fakeEnroller{})

	tests := []struct {
		name  string
		query string
		ids   []string
		total int
	}{
		{"all", "", []string{"s3", "s1", "s2"}, 3},
		{"paged", "?count=1&offset=1", []string{"s1"}, 3},
		{"by name without diacritics", "?q=jana+novakova", []string{"s1"}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/staff"+tc.query, nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var result struct {
				Staff []StaffResponse `json:"staff"`
				Total int             `json:"total"`
			}
			parseJSONResponse(t, recorder, &result)
			if result.Total != tc.total {
				t.Errorf("expected total %d, got %d", tc.total, result.Total)
			}
			if len(result.Staff) != len(tc.ids) {
				t.Fatalf("expected %d staff, got %d", len(tc.ids), len(result.Staff))
			}
			for i, id := range tc.ids {
				if result.Staff[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, result.Staff[i].ID)
				}
			}
		})
	}
}

func TestStaffGet(t *testing.T) {
	b := setupMockBackends(t)
	seedStaff(b)
	h := NewStaffHandler(&fakeEnroller{})

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/staff/s1", nil), map[string]string{"id": "s1"})
	h.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var result StaffResponse
	parseJSONResponse(t, recorder, &result)
	if result.Name != "Jana Nováková" || result.TemplateSources != 2 || result.HasDocument {
		t.Errorf("unexpected staff %+v", result)
	}

	recorder = httptest.NewRecorder()
	req = requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/staff/nope", nil), map[string]string{"id": "nope"})
	h.Get(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "staff not found")
}
