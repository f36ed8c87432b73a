// Package engagement applies inbound engagement events (opens, replies,
// bookings) reported by the dispatcher to emails and leads.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
)

// Kind is the type of an engagement event
type Kind string

const (
	KindOpened  Kind = "opened"
	KindReplied Kind = "replied"
	KindBooked  Kind = "booked"
)

// ParseKind rejects unknown event kinds
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindOpened, KindReplied, KindBooked:
		return k, nil
	}
	return "", &models.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown event kind %q", s)}
}

// Sentiment classifies a reply
type Sentiment string

const (
	SentimentNeutral       Sentiment = ""
	SentimentInterested    Sentiment = "interested"
	SentimentNotNow        Sentiment = "not_now"
	SentimentNotInterested Sentiment = "not_interested"
)

// ParseSentiment rejects unknown sentiments. Empty is neutral.
func ParseSentiment(s string) (Sentiment, error) {
	switch st := Sentiment(strings.ToLower(strings.TrimSpace(s))); st {
	case SentimentNeutral, SentimentInterested, SentimentNotNow, SentimentNotInterested:
		return st, nil
	}
	return "", &models.ValidationError{Field: "sentiment", Message: fmt.Sprintf("unknown sentiment %q", s)}
}

// Event is one engagement report for a lead
type Event struct {
	LeadID    string
	Kind      Kind
	Sentiment Sentiment
	Timestamp time.Time
}

// EmailStore is the outbound email access needed to record engagement
type EmailStore interface {
	LatestDispatched(ctx context.Context, leadID string) (*models.OutboundEmail, error)
	Update(ctx context.Context, email *models.OutboundEmail) error
}

// LeadStore is the lead access needed to record engagement
type LeadStore interface {
	Get(ctx context.Context, id string) (*models.Lead, error)
	Advance(ctx context.Context, id string, status models.LeadStatus, at time.Time) (*models.Lead, bool, error)
}

// Result is the state after an event was applied
type Result struct {
	Lead    *models.Lead          `json:"lead"`
	Email   *models.OutboundEmail `json:"email,omitempty"`
	Changed bool                  `json:"changed"`
}

// Recorder applies engagement events
type Recorder struct {
	emails EmailStore
	leads  LeadStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a new engagement recorder
func NewRecorder(emails EmailStore, leads LeadStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		emails: emails,
		leads:  leads,
		logger: logger,
		now:    time.Now,
	}
}

// Record applies ev. Opens and replies attach to the lead's most recently
// dispatched email; a lead without one is rejected. Lead status only
// moves forward, so replaying an event changes nothing.
func (r *Recorder) Record(ctx context.Context, ev Event) (*Result, error) {
	res, err := r.record(ctx, ev)

	result := "ok"
	switch {
	case err == nil && !res.Changed:
		result = "ignored"
	case err == nil:
	case errors.Is(err, models.ErrValidation):
		result = "validation"
	case errors.Is(err, models.ErrLeadNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	kind, kerr := ParseKind(string(ev.Kind))
	if kerr != nil {
		kind = "unknown"
	}
	metrics.IncEngagementEvent(string(kind), result)

	if err != nil {
		r.logger.Warn("engagement event rejected", "lead_id", ev.LeadID, "kind", ev.Kind, "error", err)
		return nil, err
	}
	r.logger.Debug("engagement event recorded", "lead_id", ev.LeadID, "kind", ev.Kind, "changed", res.Changed, "lead_status", res.Lead.Status)
	return res, nil
}

func (r *Recorder) record(ctx context.Context, ev Event) (*Result, error) {
	if strings.TrimSpace(ev.LeadID) == "" {
		return nil, &models.ValidationError{Field: "lead_id", Message: "lead id is required"}
	}
	var err error
	if ev.Kind, err = ParseKind(string(ev.Kind)); err != nil {
		return nil, err
	}
	if ev.Sentiment, err = ParseSentiment(string(ev.Sentiment)); err != nil {
		return nil, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}

	lead, err := r.leads.Get(ctx, ev.LeadID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, models.NotFound(models.ErrLeadNotFound, ev.LeadID)
	}

	switch ev.Kind {
	case KindOpened:
		return r.opened(ctx, lead, ev)
	case KindReplied:
		return r.replied(ctx, lead, ev)
	default:
		return r.booked(ctx, lead, ev)
	}
}

func (r *Recorder) opened(ctx context.Context, lead *models.Lead, ev Event) (*Result, error) {
	email, err := r.dispatched(ctx, lead.ID)
	if err != nil {
		return nil, err
	}

	res := &Result{Lead: lead, Email: email}
	if email.OpenedAt != nil {
		return res, nil
	}

	at := ev.Timestamp
	email.OpenedAt = &at
	if email.Status == models.EmailSent {
		email.Status = models.EmailOpened
	}
	if err := r.emails.Update(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to update email: %w", err)
	}
	res.Changed = true
	return res, nil
}

func (r *Recorder) replied(ctx context.Context, lead *models.Lead, ev Event) (*Result, error) {
	email, err := r.dispatched(ctx, lead.ID)
	if err != nil {
		return nil, err
	}

	res := &Result{Lead: lead, Email: email}

	if email.Status != models.EmailReplied {
		at := ev.Timestamp
		email.Status = models.EmailReplied
		email.RepliedAt = &at
		if email.OpenedAt == nil {
			email.OpenedAt = &at
		}
		email.Sentiment = string(ev.Sentiment)
		if err := r.emails.Update(ctx, email); err != nil {
			return nil, fmt.Errorf("failed to update email: %w", err)
		}
		res.Changed = true
	}

	// not_now and neutral replies hold the lead at replied
	target := models.LeadReplied
	if ev.Sentiment == SentimentInterested {
		target = models.LeadInterested
	}

	updated, changed, err := r.leads.Advance(ctx, lead.ID, target, ev.Timestamp)
	if err != nil {
		return nil, err
	}
	res.Lead = updated
	res.Changed = res.Changed || changed
	return res, nil
}

func (r *Recorder) booked(ctx context.Context, lead *models.Lead, ev Event) (*Result, error) {
	switch lead.Status {
	case models.LeadBooked, models.LeadClosed:
		return &Result{Lead: lead}, nil
	case models.LeadInterested:
	default:
		return nil, &models.ValidationError{
			Field:   "lead_id",
			Message: fmt.Sprintf("lead must be interested to book a meeting, is %s", lead.Status),
		}
	}

	updated, changed, err := r.leads.Advance(ctx, lead.ID, models.LeadBooked, ev.Timestamp)
	if err != nil {
		return nil, err
	}
	return &Result{Lead: updated, Changed: changed}, nil
}

func (r *Recorder) dispatched(ctx context.Context, leadID string) (*models.OutboundEmail, error) {
	email, err := r.emails.LatestDispatched(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, &models.ValidationError{Field: "lead_id", Message: "lead has no dispatched email"}
	}
	return email, nil
}
