// Package dashboard derives funnel counts, rates and the activity feed
// from current lead and email state. It keeps no state of its own.
package dashboard

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/outreach/internal/models"
)

const (
	DefaultActivityLimit = 10
	MaxActivityLimit     = 100
)

// LeadSource iterates stored leads
type LeadSource interface {
	ForEach(ctx context.Context, fn func(*models.Lead) error) error
}

// EmailSource iterates stored outbound emails
type EmailSource interface {
	ForEach(ctx context.Context, fn func(*models.OutboundEmail) error) error
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// ActiveCampaignCounter counts campaigns currently dispatching
type ActiveCampaignCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// Aggregator computes dashboard read models on demand. Results are not a
// consistent snapshot across leads and emails.
type Aggregator struct {
	leads     LeadSource
	emails    EmailSource
	campaigns ActiveCampaignCounter
	now       func() time.Time
}

// NewAggregator creates a dashboard aggregator
func NewAggregator(leads LeadSource, emails EmailSource, campaigns ActiveCampaignCounter) *Aggregator {
	return &Aggregator{
		leads:     leads,
		emails:    emails,
		campaigns: campaigns,
		now:       time.Now,
	}
}

// Funnel counts leads per status
func (a *Aggregator) Funnel(ctx context.Context) (models.Funnel, error) {
	var f models.Funnel
	err := a.leads.ForEach(ctx, func(l *models.Lead) error {
		f.Add(l.Status)
		return nil
	})
	if err != nil {
		return models.Funnel{}, fmt.Errorf("failed to count funnel: %w", err)
	}
	return f, nil
}

// Stats computes totals, rates and today's counters
func (a *Aggregator) Stats(ctx context.Context) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{}
	today := startOfDay(a.now())

	err := a.leads.ForEach(ctx, func(l *models.Lead) error {
		stats.TotalLeads++
		if l.BookedAt != nil || l.Status == models.LeadBooked {
			stats.TotalBookings++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read leads: %w", err)
	}

	err = a.emails.ForEach(ctx, func(e *models.OutboundEmail) error {
		if !e.Status.Dispatched() {
			return nil
		}
		stats.TotalEmailsSent++
		if e.OpenedAt != nil || e.Status == models.EmailOpened || e.Status == models.EmailReplied {
			stats.EmailsOpened++
		}
		if e.Status == models.EmailReplied {
			stats.EmailsReplied++
		}
		if e.SentAt != nil && !e.SentAt.Before(today) {
			stats.EmailsSentToday++
		}
		if e.RepliedAt != nil && !e.RepliedAt.Before(today) {
			stats.RepliesToday++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read emails: %w", err)
	}

	stats.OpenRate = rate(stats.EmailsOpened, stats.TotalEmailsSent)
	stats.ReplyRate = rate(stats.EmailsReplied, stats.TotalEmailsSent)
	stats.OpenRatePercent = percent(stats.OpenRate)
	stats.ReplyRatePercent = percent(stats.ReplyRate)
	return stats, nil
}

// ActivitySeq yields the newest activity entries, newest first, at most
// limit of them. Each iteration re-reads current state.
func (a *Aggregator) ActivitySeq(ctx context.Context, limit int) iter.Seq2[models.Activity, error] {
	limit = clampLimit(limit)

	return func(yield func(models.Activity, error) bool) {
		entries, err := a.collect(ctx)
		if err != nil {
			yield(models.Activity{}, err)
			return
		}

		slices.SortStableFunc(entries, func(x, y models.Activity) int {
			return y.Timestamp.Compare(x.Timestamp)
		})
		if len(entries) > limit {
			entries = entries[:limit]
		}

		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Activity collects ActivitySeq into a slice
func (a *Aggregator) Activity(ctx context.Context, limit int) ([]models.Activity, error) {
	out := make([]models.Activity, 0, clampLimit(limit))
	for entry, err := range a.ActivitySeq(ctx, limit) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Overview computes stats, funnel and recent activity concurrently
func (a *Aggregator) Overview(ctx context.Context, activityLimit int) (*models.Dashboard, error) {
	var d models.Dashboard

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := a.Stats(gctx)
		if err != nil {
			return err
		}
		d.Stats = *stats
		return nil
	})
	g.Go(func() error {
		f, err := a.Funnel(gctx)
		d.Funnel = f
		return err
	})
	g.Go(func() error {
		act, err := a.Activity(gctx, activityLimit)
		d.RecentActivity = act
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Quick returns the compact header summary
func (a *Aggregator) Quick(ctx context.Context) (*models.QuickStats, error) {
	var (
		q      models.QuickStats
		stats  *models.DashboardStats
		queue  *models.QueueStats
		active int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = a.Stats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		queue, err = a.emails.Stats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		active, err = a.campaigns.CountActive(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	q.TotalLeads = stats.TotalLeads
	q.ActiveCampaigns = active
	q.EmailsQueued = int(queue.Queued + queue.Deferred + queue.InFlight)
	q.EmailsSentToday = stats.EmailsSentToday
	q.RepliesToday = stats.RepliesToday
	return &q, nil
}

// collect derives every activity entry from current state
func (a *Aggregator) collect(ctx context.Context) ([]models.Activity, error) {
	var entries []models.Activity
	names := make(map[string]string)

	err := a.leads.ForEach(ctx, func(l *models.Lead) error {
		name := l.DisplayName()
		names[l.ID] = name

		entries = append(entries, models.Activity{
			Type:        models.ActivityLeadCreated,
			LeadID:      l.ID,
			LeadName:    name,
			Description: "New lead added: " + name,
			Timestamp:   l.CreatedAt,
		})
		if l.BookedAt != nil {
			entries = append(entries, models.Activity{
				Type:        models.ActivityBookingCreated,
				LeadID:      l.ID,
				LeadName:    name,
				Description: "Meeting booked with " + name,
				Timestamp:   *l.BookedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read leads: %w", err)
	}

	err = a.emails.ForEach(ctx, func(e *models.OutboundEmail) error {
		name, ok := names[e.LeadID]
		if !ok {
			name = e.To
		}

		if e.SentAt != nil {
			entries = append(entries, models.Activity{
				Type:        models.ActivityEmailSent,
				LeadID:      e.LeadID,
				LeadName:    name,
				Description: fmt.Sprintf("Email sent to %s: %s", name, e.Subject),
				Timestamp:   *e.SentAt,
			})
		}
		if e.RepliedAt != nil {
			desc := "Reply received from " + name
			if e.Sentiment != "" {
				desc += " (" + e.Sentiment + ")"
			}
			entries = append(entries, models.Activity{
				Type:        models.ActivityReplyReceived,
				LeadID:      e.LeadID,
				LeadName:    name,
				Description: desc,
				Timestamp:   *e.RepliedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read emails: %w", err)
	}

	return entries, nil
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// percent scales a ratio to 0..100, rounded to one decimal
func percent(ratio float64) float64 {
	return math.Round(ratio*1000) / 10
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	return min(limit, MaxActivityLimit)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
