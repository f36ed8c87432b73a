// Package campaign implements the campaign lifecycle: the transition table,
// per-lead content materialization at start, and the per-campaign
// serialization of transitions.
package campaign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/template"
)

// Store is the campaign persistence used by the state machine
type Store interface {
	Get(ctx context.Context, id string) (*models.Campaign, error)
	Save(ctx context.Context, c *models.Campaign, expectedVersion int) error
	Activate(ctx context.Context, c *models.Campaign, expectedVersion int, emails []*models.OutboundEmail) error
	Delete(ctx context.Context, id string, expectedVersion int) (int, error)
}

// LeadGetter loads leads. Get returns nil, nil for an unknown ID.
type LeadGetter interface {
	Get(ctx context.Context, id string) (*models.Lead, error)
}

// TemplateGetter loads templates. Get returns nil, nil for an unknown ID.
type TemplateGetter interface {
	Get(ctx context.Context, id string) (*models.EmailTemplate, error)
}

// Event is a requested campaign transition
type Event string

const (
	EventStart    Event = "start"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventComplete Event = "complete"
	EventDelete   Event = "delete"
)

// removed is the pseudo-status a deleted campaign moves to
const removed models.CampaignStatus = ""

// transitions is the complete transition table. Anything missing is an
// invalid transition. Nothing leads into scheduled and nothing leaves
// completed except deletion.
var transitions = map[models.CampaignStatus]map[Event]models.CampaignStatus{
	models.CampaignDraft: {
		EventStart:  models.CampaignActive,
		EventDelete: removed,
	},
	models.CampaignScheduled: {
		EventDelete: removed,
	},
	models.CampaignActive: {
		EventPause:    models.CampaignPaused,
		EventComplete: models.CampaignCompleted,
	},
	models.CampaignPaused: {
		EventResume: models.CampaignActive,
		EventDelete: removed,
	},
	models.CampaignCompleted: {
		EventDelete: removed,
	},
}

// Next returns the status an event leads to from status
func Next(status models.CampaignStatus, event Event) (models.CampaignStatus, bool) {
	next, ok := transitions[status][event]
	return next, ok
}

// Config contains state machine settings
type Config struct {
	// LockWait bounds how long a transition waits for a concurrent one
	// on the same campaign
	LockWait time.Duration
	// RenderWorkers bounds per-lead rendering concurrency during start
	RenderWorkers int
}

// Machine executes campaign transitions. At most one transition per
// campaign runs at a time; losers get ErrConcurrentModification.
type Machine struct {
	store     Store
	leads     LeadGetter
	templates TemplateGetter
	locker    Locker
	renderer  *template.Renderer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewMachine creates a state machine
func NewMachine(store Store, leads LeadGetter, templates TemplateGetter, locker Locker, cfg Config, logger *slog.Logger) *Machine {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.RenderWorkers <= 0 {
		cfg.RenderWorkers = 8
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}

	return &Machine{
		store:     store,
		leads:     leads,
		templates: templates,
		locker:    locker,
		renderer:  template.NewRenderer(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start activates a draft campaign: renders content for every selected lead
// and queues one email per lead together with the status change
func (m *Machine) Start(ctx context.Context, id string, leadIDs []string, content ContentSource) (*models.Campaign, error) {
	leadIDs = dedupe(leadIDs)
	if len(leadIDs) == 0 {
		return nil, m.record(EventStart, id, &models.ValidationError{Field: "lead_ids", Message: "at least one lead must be selected"})
	}
	if content == nil {
		return nil, m.record(EventStart, id, &models.ValidationError{Field: "email_template_id", Message: "a template or subject and body is required"})
	}
	if err := content.Validate(); err != nil {
		return nil, m.record(EventStart, id, err)
	}

	var queued int
	c, err := m.transition(ctx, id, EventStart, func(c *models.Campaign) error {
		tmpl, err := content.resolve(ctx, m.templates)
		if err != nil {
			return err
		}

		emails, err := m.materialize(ctx, c.ID, tmpl, leadIDs)
		if err != nil {
			return err
		}

		now := m.now()
		for _, e := range emails {
			e.CreatedAt = now
		}

		c.Status = models.CampaignActive
		c.StartedAt = &now
		c.EmailTemplate = tmpl.Name
		c.TemplateID = tmpl.ID
		c.LeadCount = len(emails)

		if err := m.store.Activate(ctx, c, c.Version, emails); err != nil {
			return err
		}
		queued = len(emails)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.AddEmailsQueued(queued)
	m.logger.Info("campaign started", "campaign_id", id, "emails_queued", queued, "template", c.EmailTemplate)
	return c, nil
}

// Pause holds dispatch of the campaign's undispatched emails
func (m *Machine) Pause(ctx context.Context, id string) (*models.Campaign, error) {
	return m.simple(ctx, id, EventPause, nil)
}

// Resume releases the hold placed by Pause
func (m *Machine) Resume(ctx context.Context, id string) (*models.Campaign, error) {
	return m.simple(ctx, id, EventResume, nil)
}

// Complete ends an active campaign. There is no way back.
func (m *Machine) Complete(ctx context.Context, id string) (*models.Campaign, error) {
	return m.simple(ctx, id, EventComplete, func(c *models.Campaign) {
		now := m.now()
		c.EndedAt = &now
	})
}

// Delete removes a campaign that is not active. Its undispatched emails are
// dropped; sent history is kept.
func (m *Machine) Delete(ctx context.Context, id string) error {
	var purged int
	_, err := m.transition(ctx, id, EventDelete, func(c *models.Campaign) error {
		var err error
		purged, err = m.store.Delete(ctx, c.ID, c.Version)
		return err
	})
	if err != nil {
		return err
	}

	metrics.AddEmailsPurged(purged)
	m.logger.Info("campaign deleted", "campaign_id", id, "emails_dropped", purged)
	return nil
}

// simple runs a transition whose only effect is the status change plus
// optional field updates
func (m *Machine) simple(ctx context.Context, id string, event Event, mutate func(c *models.Campaign)) (*models.Campaign, error) {
	c, err := m.transition(ctx, id, event, func(c *models.Campaign) error {
		next, _ := Next(c.Status, event)
		c.Status = next
		if mutate != nil {
			mutate(c)
		}
		return m.store.Save(ctx, c, c.Version)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("campaign transition", "campaign_id", id, "event", event, "status", c.Status)
	return c, nil
}

// transition takes the campaign lock, loads the campaign, checks the
// transition table and runs apply. apply must persist atomically.
func (m *Machine) transition(ctx context.Context, id string, event Event, apply func(c *models.Campaign) error) (*models.Campaign, error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.cfg.LockWait)
	unlock, err := m.locker.Lock(lockCtx, id)
	cancel()
	if err != nil {
		return nil, m.record(event, id, err)
	}
	defer unlock()

	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, m.record(event, id, err)
	}
	if c == nil {
		return nil, m.record(event, id, models.NotFound(models.ErrCampaignNotFound, id))
	}

	if _, ok := Next(c.Status, event); !ok {
		return nil, m.record(event, id, &models.TransitionError{Status: c.Status, Event: string(event)})
	}

	if err := apply(c); err != nil {
		return nil, m.record(event, id, err)
	}
	m.record(event, id, nil)
	return c, nil
}

// materialize renders one email per lead. Leads are loaded and rendered
// concurrently; any missing lead aborts the whole batch.
func (m *Machine) materialize(ctx context.Context, campaignID string, tmpl *models.EmailTemplate, leadIDs []string) ([]*models.OutboundEmail, error) {
	emails := make([]*models.OutboundEmail, len(leadIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.RenderWorkers)

	for i, leadID := range leadIDs {
		g.Go(func() error {
			lead, err := m.leads.Get(gctx, leadID)
			if err != nil {
				return err
			}
			if lead == nil {
				return models.NotFound(models.ErrLeadNotFound, leadID)
			}

			out := m.renderer.Render(tmpl, lead.Fields())
			emails[i] = &models.OutboundEmail{
				CampaignID: campaignID,
				LeadID:     lead.ID,
				TemplateID: tmpl.ID,
				To:         lead.Email,
				Subject:    out.Subject,
				Body:       out.Body,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return emails, nil
}

// record counts the outcome of an event and logs rejections. Returns err.
func (m *Machine) record(event Event, id string, err error) error {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidTransition):
		result = "invalid"
	case errors.Is(err, models.ErrValidation):
		result = "validation"
	case errors.Is(err, models.ErrCampaignNotFound),
		errors.Is(err, models.ErrLeadNotFound),
		errors.Is(err, models.ErrTemplateNotFound):
		result = "not_found"
	case errors.Is(err, models.ErrConcurrentModification):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.IncCampaignTransition(string(event), result)

	if err != nil {
		m.logger.Warn("campaign transition rejected", "campaign_id", id, "event", event, "result", result, "error", err)
	}
	return err
}

// dedupe drops empty and repeated IDs, keeping first occurrences
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
