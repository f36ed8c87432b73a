package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/campaigns/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	}

	got := counterValue(t, m.APIRequestsTotal.WithLabelValues("GET", "/api/campaigns/{id}", "404"))
	if got != 2 {
		t.Errorf("requests{path=/api/campaigns/{id}} = %v, want 2", got)
	}
	if got := counterValue(t, m.APIErrorsTotal.WithLabelValues("not_found")); got != 2 {
		t.Errorf("errors{not_found} = %v, want 2", got)
	}
}

func TestHTTPMiddlewareDefaultStatus(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := counterValue(t, m.APIRequestsTotal.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("requests{status=200} = %v, want 1", got)
	}
}

func TestHTTPMiddlewareNoMetrics(t *testing.T) {
	SetGlobal(nil)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	// Should not panic when global metrics is nil
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestNormalizePathFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/leads/550e8400-e29b-41d4-a716-446655440000/notes", nil)
	if got := normalizePath(req); got != "/api/leads/{id}/notes" {
		t.Errorf("normalizePath() = %q", got)
	}
}

func TestIsUUID(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", true},
		{"not-a-uuid", false},
		{"550e8400e29b41d4a716446655440000", false}, // missing dashes
		{"", false},
		{"550e8400-e29b-41d4-a716-44665544000", false},   // too short
		{"550e8400-e29b-41d4-a716-4466554400000", false}, // too long
	}

	for _, tt := range tests {
		if result := isUUID(tt.input); result != tt.expected {
			t.Errorf("isUUID(%q) = %v, expected %v", tt.input, result, tt.expected)
		}
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{500, "server_error"},
		{503, "server_error"},
		{401, "auth_error"},
		{403, "auth_error"},
		{404, "not_found"},
		{409, "conflict"},
		{400, "bad_request"},
		{422, "client_error"},
		{200, "unknown"},
	}

	for _, tt := range tests {
		if result := categorizeStatus(tt.status); result != tt.expected {
			t.Errorf("categorizeStatus(%d) = %q, expected %q", tt.status, result, tt.expected)
		}
	}
}
