package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/selection"
)

// CampaignRequest is the body for creating or renaming a campaign
type CampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StartRequest selects leads and content for starting a campaign.
// email_template_id wins over subject and body.
type StartRequest struct {
	LeadIDs         []string `json:"lead_ids"`
	SelectAll       bool     `json:"select_all,omitempty"`
	EmailTemplateID string   `json:"email_template_id,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	Body            string   `json:"body,omitempty"`
}

// QuickStartRequest creates and starts a campaign in one call
type QuickStartRequest struct {
	CampaignRequest
	StartRequest
}

// handleListCampaigns handles GET /api/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	filter := models.CampaignFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  p.PerPage,
		Offset: p.Offset(),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseCampaignStatus(v)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		filter.Status = status
	}

	campaigns, total, err := s.deps.Campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, newPage(campaigns, total, p))
}

// handleCreateCampaign handles POST /api/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	c := &models.Campaign{Name: req.Name, Description: req.Description}
	if err := s.deps.Campaigns.Create(r.Context(), c); err != nil {
		s.sendErr(w, r, err)
		return
	}

	s.logger.Info("campaign created", "id", c.ID, "name", c.Name)
	s.sendJSON(w, http.StatusCreated, c)
}

// handleGetCampaign handles GET /api/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.deps.Campaigns.Get(r.Context(), id)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if c == nil {
		s.sendErr(w, r, models.NotFound(models.ErrCampaignNotFound, id))
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	c, err := s.deps.Campaigns.UpdateDetails(r.Context(), chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Machine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartCampaign handles POST /api/campaigns/{id}/start
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	c, err := s.start(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleQuickStart handles POST /api/campaigns/quick-start.
// The draft is removed again when the start is rejected.
func (s *Server) handleQuickStart(w http.ResponseWriter, r *http.Request) {
	// Clients may also send the request as query parameters with no body
	var req QuickStartRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
		req = quickStartFromQuery(r.URL.Query())
	case err != nil:
		s.sendErr(w, r, &models.ValidationError{Message: "invalid request body: " + err.Error()})
		return
	}

	draft := &models.Campaign{Name: req.Name, Description: req.Description}
	if err := s.deps.Campaigns.Create(r.Context(), draft); err != nil {
		s.sendErr(w, r, err)
		return
	}

	c, err := s.start(r.Context(), draft.ID, req.StartRequest)
	if err != nil {
		if derr := s.deps.Machine.Delete(context.WithoutCancel(r.Context()), draft.ID); derr != nil {
			s.logger.Error("failed to remove draft after rejected quick start", "campaign_id", draft.ID, "error", derr)
		}
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// quickStartFromQuery reads name, description, lead_ids (comma separated),
// select_all, template_id, subject and body
func quickStartFromQuery(q url.Values) QuickStartRequest {
	req := QuickStartRequest{
		CampaignRequest: CampaignRequest{
			Name:        q.Get("name"),
			Description: q.Get("description"),
		},
		StartRequest: StartRequest{
			EmailTemplateID: q.Get("template_id"),
			Subject:         q.Get("subject"),
			Body:            q.Get("body"),
		},
	}
	if req.EmailTemplateID == "" {
		req.EmailTemplateID = q.Get("email_template_id")
	}
	req.SelectAll, _ = strconv.ParseBool(q.Get("select_all"))

	for _, id := range strings.Split(q.Get("lead_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.LeadIDs = append(req.LeadIDs, id)
		}
	}
	return req
}

// start assembles the selection and runs the start transition
func (s *Server) start(ctx context.Context, id string, req StartRequest) (*models.Campaign, error) {
	sel := selection.New()
	sel.Add(req.LeadIDs...)
	if req.SelectAll {
		all, err := s.deps.Leads.IDs(ctx)
		if err != nil {
			return nil, err
		}
		sel.Add(all...)
	}
	sel.SetContent(campaign.SourceFrom(req.EmailTemplateID, req.Subject, req.Body))

	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return s.deps.Machine.Start(ctx, id, sel.IDs(), sel.Content())
}

// handleTransition serves pause, resume and complete
func (s *Server) handleTransition(fn func(ctx context.Context, id string) (*models.Campaign, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		s.sendJSON(w, http.StatusOK, c)
	}
}

// handleCampaignEmails handles GET /api/campaigns/{id}/emails
func (s *Server) handleCampaignEmails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.deps.Campaigns.Get(r.Context(), id)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if c == nil {
		s.sendErr(w, r, models.NotFound(models.ErrCampaignNotFound, id))
		return
	}

	p := parsePage(r)
	filter := models.EmailFilter{
		CampaignID: id,
		Limit:      p.PerPage,
		Offset:     p.Offset(),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseEmailStatus(v)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		filter.Status = status
	}

	emails, total, err := s.deps.Emails.List(r.Context(), filter)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, newPage(emails, total, p))
}
