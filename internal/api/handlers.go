package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/outreach/internal/models"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version,omitempty"`
	Uptime  string             `json:"uptime"`
	Queue   *models.QueueStats `json:"queue"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// PagedResponse is a page of list results
type PagedResponse[T any] struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Items      []T `json:"items"`
}

func newPage[T any](items []T, total int, p pageParams) PagedResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PagedResponse[T]{
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: (total + p.PerPage - 1) / p.PerPage,
		Items:      items,
	}
}

type pageParams struct {
	Page    int
	PerPage int
}

func (p pageParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// parsePage reads page and per_page, clamping to sane values
func parsePage(r *http.Request) pageParams {
	p := pageParams{Page: 1, PerPage: defaultPerPage}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		p.PerPage = min(v, maxPerPage)
	}
	return p
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Emails.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get queue stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Queue:   stats,
	})
}

// decode reads a JSON request body into v
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &models.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendErr maps a domain error to its HTTP status
func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrCampaignNotFound),
		errors.Is(err, models.ErrLeadNotFound),
		errors.Is(err, models.ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConcurrentModification):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.sendError(w, status, "internal error")
		return
	}
	s.sendError(w, status, err.Error())
}
