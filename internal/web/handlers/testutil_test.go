package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/database/mock"
	"github.com/kozaktomas/faceclock/internal/enrollment"
	"github.com/kozaktomas/faceclock/internal/pipeline"
	"github.com/kozaktomas/faceclock/internal/verify"
)

// mockBackends holds the in-memory stores registered for a test
type mockBackends struct {
	staff   *mock.MockStaffStore
	events  *mock.MockClockEventStore
	devices *mock.MockDeviceQualityStore
}

// setupMockBackends registers in-memory stores as the database backend.
// Cleanup deregisters them.
func setupMockBackends(t *testing.T) *mockBackends {
	t.Helper()
	b := &mockBackends{
		staff:   mock.NewMockStaffStore(),
		events:  mock.NewMockClockEventStore(),
		devices: mock.NewMockDeviceQualityStore(),
	}
	database.RegisterPostgresBackend(
		func() database.StaffWriter { return b.staff },
		func() database.ClockEventWriter { return b.events },
		func() database.DeviceQualityStore { return b.devices },
	)
	t.Cleanup(database.ResetForTesting)
	return b
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartRequest builds a POST request with form fields and file parts
func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string][][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for field, parts := range files {
		for i, data := range parts {
			fw, err := mw.CreateFormFile(field, field+string(rune('0'+i))+".jpg")
			if err != nil {
				t.Fatalf("failed to create form file: %v", err)
			}
			fw.Write(data)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}

type fakePreviewer struct {
	res  *pipeline.PreviewResult
	err  error
	data []byte
}

func (f *fakePreviewer) Preview(_ context.Context, data []byte) (*pipeline.PreviewResult, error) {
	f.data = data
	return f.res, f.err
}

type fakeEnroller struct {
	res *enrollment.Result
	err error
	req enrollment.Request
}

func (f *fakeEnroller) Enroll(_ context.Context, req enrollment.Request) (*enrollment.Result, error) {
	f.req = req
	return f.res, f.err
}

type fakeClocker struct {
	res *verify.ClockResult
	err error
	req verify.ClockRequest
}

func (f *fakeClocker) Clock(_ context.Context, req verify.ClockRequest) (*verify.ClockResult, error) {
	f.req = req
	return f.res, f.err
}
