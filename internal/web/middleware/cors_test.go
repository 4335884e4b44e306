package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsOriginAllowed(t *testing.T) {
	allowed := parseAllowedOrigins(" https://kiosk.example.com , https://admin.example.com,,")

	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"https://localhost:8443", true},
		{"http://localhost.evil.com", false},
		{"https://kiosk.example.com", true},
		{"https://admin.example.com", true},
		{"https://other.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS("https://kiosk.example.com")(next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clock", nil)
	req.Header.Set("Origin", "https://kiosk.example.com")
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)

	if !called || recorder.Code != http.StatusTeapot {
		t.Errorf("expected request to reach handler, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://kiosk.example.com" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
	if !strings.Contains(recorder.Header().Get("Access-Control-Allow-Headers"), "X-Device-Id") {
		t.Error("expected device headers to be allowed")
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/clock", nil)
	req.Header.Set("Origin", "https://unknown.example.com")
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)

	if called {
		t.Error("preflight must not reach the handler")
	}
	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin for unknown origin, got %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	if recorder.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected frame deny header")
	}
}
