package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/template"
)

// TemplateRequest is the body for creating or updating a template
type TemplateRequest struct {
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	IsDefault bool   `json:"is_default"`
}

// TemplatePreviewRequest carries sample field values for a preview
type TemplatePreviewRequest struct {
	Data map[string]string `json:"data"`
}

// TemplatePreviewResponse is the rendered preview
type TemplatePreviewResponse struct {
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Placeholders []string `json:"placeholders"`
	Unresolved   []string `json:"unresolved"`
}

// SeedResponse is the response for POST /api/templates/seed/defaults
type SeedResponse struct {
	Created int `json:"created"`
}

// handleListTemplates handles GET /api/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	filter := models.TemplateFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  p.PerPage,
		Offset: p.Offset(),
	}

	templates, total, err := s.deps.Templates.List(r.Context(), filter)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, newPage(templates, total, p))
}

// handleCreateTemplate handles POST /api/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	tmpl := &models.EmailTemplate{
		Name:      req.Name,
		Subject:   req.Subject,
		Body:      req.Body,
		IsDefault: req.IsDefault,
	}
	if err := s.deps.Templates.Create(r.Context(), tmpl); err != nil {
		s.sendErr(w, r, err)
		return
	}

	s.logger.Info("template created", "id", tmpl.ID, "name", tmpl.Name)
	s.sendJSON(w, http.StatusCreated, tmpl)
}

// handleGetTemplate handles GET /api/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleDefaultTemplate handles GET /api/templates/default/active
func (s *Server) handleDefaultTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.deps.Templates.GetDefault(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if tmpl == nil {
		s.sendError(w, http.StatusNotFound, "no default template")
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleUpdateTemplate handles PUT /api/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	tmpl, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}

	tmpl.Name = req.Name
	tmpl.Subject = req.Subject
	tmpl.Body = req.Body
	tmpl.IsDefault = req.IsDefault
	if err := s.deps.Templates.Update(r.Context(), tmpl); err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleDeleteTemplate handles DELETE /api/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Templates.Delete(r.Context(), id); err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.logger.Info("template deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handlePreviewTemplate handles POST /api/templates/{id}/preview
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplatePreviewRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.sendErr(w, r, err)
			return
		}
	}

	tmpl, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}

	out := s.renderer.Render(tmpl, req.Data)
	resp := TemplatePreviewResponse{
		Subject:      out.Subject,
		Body:         out.Body,
		Placeholders: template.Placeholders(tmpl.Subject + "\n" + tmpl.Body),
		Unresolved:   template.Unresolved(tmpl, req.Data),
	}
	if resp.Placeholders == nil {
		resp.Placeholders = []string{}
	}
	if resp.Unresolved == nil {
		resp.Unresolved = []string{}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleSeedTemplates handles POST /api/templates/seed/defaults
func (s *Server) handleSeedTemplates(w http.ResponseWriter, r *http.Request) {
	created, err := template.SeedDefaults(r.Context(), s.deps.Templates)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SeedResponse{Created: created})
}

func (s *Server) loadTemplate(w http.ResponseWriter, r *http.Request) (*models.EmailTemplate, bool) {
	id := chi.URLParam(r, "id")
	tmpl, err := s.deps.Templates.Get(r.Context(), id)
	if err != nil {
		s.sendErr(w, r, err)
		return nil, false
	}
	if tmpl == nil {
		s.sendErr(w, r, models.NotFound(models.ErrTemplateNotFound, id))
		return nil, false
	}
	return tmpl, true
}
