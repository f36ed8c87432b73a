package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", []string{}, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR range", []string{"10.0.0.0/8"}, 1},
		{"multiple entries", []string{"192.168.1.1", "10.0.0.0/8", "172.16.0.0/12"}, 3},
		{"with whitespace", []string{"  192.168.1.1  ", " 10.0.0.0/8 "}, 2},
		{"invalid entries ignored", []string{"192.168.1.1", "invalid", "10.0.0.0/33"}, 1},
		{"IPv6", []string{"::1", "2001:db8::/32"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowedIPs, newTestLogger())
			if f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
			if f.Enabled() != (tt.wantCount > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestFilter_IsAllowed(t *testing.T) {
	f := New([]string{"192.168.1.100", "10.0.0.0/8", "::1", "fe80::/10"}, newTestLogger())

	tests := []struct {
		ip      string
		allowed bool
	}{
		{"192.168.1.100", true},
		{"192.168.1.101", false},
		{"10.255.255.255", true},
		{"11.0.0.1", false},
		{"::ffff:10.1.2.3", true},
		{"::1", true},
		{"fe80::1", true},
		{"2001:db8::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := f.IsAllowed(netip.MustParseAddr(tt.ip)); got != tt.allowed {
				t.Errorf("IsAllowed(%s) = %v, want %v", tt.ip, got, tt.allowed)
			}
		})
	}
}

func TestFilter_EmptyAllowsAll(t *testing.T) {
	f := New(nil, newTestLogger())
	if !f.IsAllowed(netip.MustParseAddr("203.0.113.9")) {
		t.Error("empty filter should allow everyone")
	}
}

func TestFilter_IsAllowedAddr(t *testing.T) {
	f := New([]string{"192.168.1.0/24"}, newTestLogger())

	tests := []struct {
		addr string
		want bool
	}{
		{"192.168.1.5:4000", true},
		{"192.168.1.5", true},
		{"[::1]:4000", false},
		{"10.0.0.1:80", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		if got := f.IsAllowedAddr(tt.addr); got != tt.want {
			t.Errorf("IsAllowedAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestFilter_HTTPMiddleware(t *testing.T) {
	f := New([]string{"192.168.1.0/24"}, newTestLogger())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middleware.RealIP(f.HTTPMiddleware(ok))

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		want       int
	}{
		{"allowed", "192.168.1.10:1234", "", http.StatusOK},
		{"denied", "10.0.0.1:1234", "", http.StatusForbidden},
		{"forwarded allowed", "127.0.0.1:1234", "192.168.1.77", http.StatusOK},
		{"garbage", "garbage", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
