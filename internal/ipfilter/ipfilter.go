// Package ipfilter restricts HTTP endpoints to a list of client networks
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed networks
type Filter struct {
	allowed []netip.Prefix
	logger  *slog.Logger
}

// New creates a filter from single addresses and CIDR ranges.
// Invalid entries are logged and skipped. An empty list allows everyone.
func New(allowedIPs []string, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}

	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parse(entry)
		if err != nil {
			logger.Warn("invalid entry in allowed_ips", "entry", entry, "error", err)
			continue
		}
		f.allowed = append(f.allowed, prefix)
	}

	return f
}

func parse(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Enabled returns true if filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowed)
}

// IsAllowed reports whether addr is in an allowed network.
// Everything is allowed when the filter is empty.
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, prefix := range f.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsAllowedAddr checks a "host:port" or bare host address
func (f *Filter) IsAllowedAddr(remote string) bool {
	addr, ok := ParseRemote(remote)
	if !ok {
		return false
	}
	return f.IsAllowed(addr)
}

// ParseRemote extracts the IP from a request's RemoteAddr
func ParseRemote(remote string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// HTTPMiddleware rejects clients outside the allowed networks with 403.
// Mount it after middleware.RealIP to honour proxy headers.
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := ParseRemote(r.RemoteAddr)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.IsAllowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
