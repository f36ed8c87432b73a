package api

import (
	"net/http"
	"time"

	"github.com/foxzi/outreach/internal/engagement"
	"github.com/foxzi/outreach/internal/template"
)

// EventRequest is an engagement report from the dispatcher
type EventRequest struct {
	LeadID    string    `json:"lead_id"`
	Kind      string    `json:"kind"`
	Sentiment string    `json:"sentiment,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SimulateRequest is the body of the demo simulate endpoints
type SimulateRequest struct {
	LeadID    string `json:"lead_id"`
	Sentiment string `json:"sentiment,omitempty"`
}

// ResetResponse is the response for POST /api/demo/reset
type ResetResponse struct {
	Status           string `json:"status"`
	TemplatesCreated int    `json:"templates_created"`
}

// handleEvent handles POST /api/events
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decode(r, &req); err != nil {
		s.sendErr(w, r, err)
		return
	}

	res, err := s.deps.Recorder.Record(r.Context(), engagement.Event{
		LeadID:    req.LeadID,
		Kind:      engagement.Kind(req.Kind),
		Sentiment: engagement.Sentiment(req.Sentiment),
		Timestamp: req.Timestamp,
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleSimulate serves the demo open, reply and booking endpoints
func (s *Server) handleSimulate(kind engagement.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SimulateRequest
		if err := decode(r, &req); err != nil {
			s.sendErr(w, r, err)
			return
		}

		ev := engagement.Event{LeadID: req.LeadID, Kind: kind}
		if kind == engagement.KindReplied {
			ev.Sentiment = engagement.Sentiment(req.Sentiment)
			if req.Sentiment == "" {
				ev.Sentiment = engagement.SentimentInterested
			}
		}

		res, err := s.deps.Recorder.Record(r.Context(), ev)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		s.sendJSON(w, http.StatusOK, res)
	}
}

// handleDemoReset handles POST /api/demo/reset. It wipes all data and
// reinstalls the starter templates.
func (s *Server) handleDemoReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DB.Reset(); err != nil {
		s.sendErr(w, r, err)
		return
	}

	created, err := template.SeedDefaults(r.Context(), s.deps.Templates)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	s.logger.Warn("demo data reset", "remote_addr", r.RemoteAddr)
	s.sendJSON(w, http.StatusOK, ResetResponse{Status: "ok", TemplatesCreated: created})
}
