package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/outreach/internal/models"
)

// LeadRequest is the body for creating or updating a lead
type LeadRequest struct {
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name,omitempty"`
	Company        string            `json:"company,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Address        string            `json:"address,omitempty"`
	PropertyType   string            `json:"property_type,omitempty"`
	EstimatedValue string            `json:"estimated_value,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Status         string            `json:"status,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

func (req *LeadRequest) apply(l *models.Lead) error {
	l.Email = req.Email
	l.FirstName = req.FirstName
	l.LastName = req.LastName
	l.Company = req.Company
	l.Phone = req.Phone
	l.Address = req.Address
	l.PropertyType = req.PropertyType
	l.EstimatedValue = req.EstimatedValue
	l.Attributes = req.Attributes
	l.Notes = req.Notes

	if req.Status != "" {
		status, err := models.ParseLeadStatus(req.Status)
		if err != nil {
			return err
		}
		l.Status = status
	}
	return nil
}

// handleListLeads handles GET /api/leads
func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	filter := models.LeadFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  p.PerPage,
		Offset: p.Offset(),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseLeadStatus(v)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		filter.Status = status
	}

	leads, total, err := s.deps.Leads.List(r.Context(), filter)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, newPage(leads, total, p))
}

// handleCreateLead handles POST /api/leads
func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req LeadRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	l := &models.Lead{}
	if err := req.apply(l); err != nil {
		s.sendErr(w, r, err)
		return
	}
	if err := s.deps.Leads.Create(r.Context(), l); err != nil {
		s.sendErr(w, r, err)
		return
	}

	s.logger.Info("lead created", "id", l.ID)
	s.sendJSON(w, http.StatusCreated, l)
}

// handleGetLead handles GET /api/leads/{id}
func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, err := s.deps.Leads.Get(r.Context(), id)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if l == nil {
		s.sendErr(w, r, models.NotFound(models.ErrLeadNotFound, id))
		return
	}
	s.sendJSON(w, http.StatusOK, l)
}

// handleUpdateLead handles PUT /api/leads/{id}
func (s *Server) handleUpdateLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LeadRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	l, err := s.deps.Leads.Get(r.Context(), id)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if l == nil {
		s.sendErr(w, r, models.NotFound(models.ErrLeadNotFound, id))
		return
	}

	if err := req.apply(l); err != nil {
		s.sendErr(w, r, err)
		return
	}
	if err := s.deps.Leads.Update(r.Context(), l); err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, l)
}

// handleDeleteLead handles DELETE /api/leads/{id}
func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Leads.Delete(r.Context(), id); err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.logger.Info("lead deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}
