package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewServerAllowedIPs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()

	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR notation", []string{"192.168.0.0/16", "10.0.0.0/8"}, 2},
		{"with invalid", []string{"192.168.1.1", "invalid", "10.0.0.1"}, 2},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(m, ":9090", "/metrics", tt.allowedIPs, logger)
			if s.filter.Count() != tt.wantCount {
				t.Errorf("expected %d allowed networks, got %d", tt.wantCount, s.filter.Count())
			}
		})
	}
}

func TestServerHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(New(), ":9090", "/metrics", []string{"192.168.1.0/24"}, logger)
	h := s.Handler()

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		headers    map[string]string
		wantStatus int
	}{
		{"allowed IP", "/metrics", "192.168.1.100:12345", nil, http.StatusOK},
		{"denied IP", "/metrics", "10.0.0.1:12345", nil, http.StatusForbidden},
		{"forwarded allowed", "/metrics", "127.0.0.1:12345", map[string]string{"X-Real-IP": "192.168.1.7"}, http.StatusOK},
		{"health unfiltered", "/health", "10.0.0.1:12345", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServerShutdownRace(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, shutdownFirst := range []bool{true, false} {
		s := NewServer(New(), "127.0.0.1:0", "/metrics", nil, logger)

		if shutdownFirst {
			if err := s.Shutdown(context.Background()); err != nil {
				t.Fatalf("Shutdown() error = %v", err)
			}
		}

		done := make(chan error, 1)
		go func() { done <- s.ListenAndServe() }()

		if !shutdownFirst {
			if err := s.Shutdown(context.Background()); err != nil {
				t.Fatalf("Shutdown() error = %v", err)
			}
		}

		select {
		case err := <-done:
			if !errors.Is(err, http.ErrServerClosed) {
				t.Errorf("shutdownFirst=%v: ListenAndServe() = %v, want ErrServerClosed", shutdownFirst, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("shutdownFirst=%v: listener still running after Shutdown", shutdownFirst)
		}
	}
}
