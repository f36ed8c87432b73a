package api

import (
	"net/http"
	"strconv"
)

func (s *Server) activityLimit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return s.deps.ActivityLimit
}

// handleDashboard handles GET /api/dashboard
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Dashboard.Overview(r.Context(), s.activityLimit(r))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

// handleDashboardStats handles GET /api/dashboard/stats
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Dashboard.Stats(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleDashboardFunnel handles GET /api/dashboard/funnel
func (s *Server) handleDashboardFunnel(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Dashboard.Funnel(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, f)
}

// handleDashboardActivity handles GET /api/dashboard/activity
func (s *Server) handleDashboardActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Dashboard.Activity(r.Context(), s.activityLimit(r))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}

// handleDashboardQuick handles GET /api/dashboard/quick
func (s *Server) handleDashboardQuick(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.Dashboard.Quick(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, q)
}
