package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/ratelimit"
)

// Sender hands one personalized email to the delivery system
type Sender interface {
	Send(ctx context.Context, email *models.OutboundEmail) error
}

// LeadContacter is told when a lead's email left the queue
type LeadContacter interface {
	MarkContacted(ctx context.Context, leadID string, at time.Time) error
}

// Throttle decides whether an email may be handed to the sender now
type Throttle interface {
	Allow(ctx context.Context, req *ratelimit.Request) (*ratelimit.Result, error)
}

// ErrPermanent marks a send error that must not be retried
var ErrPermanent = errors.New("permanent dispatch failure")

// Processor drains the outbound queue with a pool of workers
type Processor struct {
	queue           Queue
	sender          Sender
	leads           LeadContacter
	throttle        Throttle
	workers         int
	retryInterval   time.Duration
	maxAttempts     int
	processInterval time.Duration
	sendTimeout     time.Duration
	logger          *slog.Logger
	now             func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	RetryInterval   time.Duration
	MaxAttempts     int
	ProcessInterval time.Duration
	SendTimeout     time.Duration
}

// NewProcessor creates a new queue processor. leads may be nil.
func NewProcessor(q Queue, sender Sender, leads LeadContacter, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	return &Processor{
		queue:           q,
		sender:          sender,
		leads:           leads,
		workers:         cfg.Workers,
		retryInterval:   cfg.RetryInterval,
		maxAttempts:     cfg.MaxAttempts,
		processInterval: cfg.ProcessInterval,
		sendTimeout:     cfg.SendTimeout,
		logger:          logger,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
}

// SetThrottle enables send limits. Must be called before Start.
func (p *Processor) SetThrottle(t Throttle) {
	p.throttle = t
}

// Start re-queues interrupted claims and starts the workers
func (p *Processor) Start(ctx context.Context) error {
	recovered, err := p.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		p.logger.Info("re-queued interrupted emails", "count", recovered)
	}

	p.logger.Info("starting dispatcher", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.logger.Info("stopping dispatcher")
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("dispatcher stopped")
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
			// Drain while there is work instead of one email per tick
			for p.processOne(ctx, logger) {
				select {
				case <-ctx.Done():
					return
				case <-p.stopCh:
					return
				default:
				}
			}
		}
	}
}

// processOne dispatches a single email. Returns false when the queue had
// nothing to hand out or a send limit was hit.
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) bool {
	email, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue email", "error", err)
		return false
	}
	if email == nil {
		return false
	}

	logger = logger.With("email_id", email.ID, "campaign_id", email.CampaignID)

	if !p.admit(ctx, email, logger) {
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	err = p.sender.Send(sendCtx, email)
	cancel()

	if err == nil {
		sentAt := p.now()
		if _, err := p.queue.MarkSent(ctx, email.ID, sentAt); err != nil {
			logger.Error("failed to update email status", "error", err)
			return true
		}
		metrics.IncEmailsDispatched("sent")

		if p.leads != nil {
			if err := p.leads.MarkContacted(ctx, email.LeadID, sentAt); err != nil {
				logger.Warn("failed to mark lead contacted", "lead_id", email.LeadID, "error", err)
			}
		}

		logger.Info("email dispatched", "to", email.To)
		return true
	}

	attempt := email.Attempts + 1
	logger.Warn("dispatch failed", "error", err, "attempt", attempt)

	if !errors.Is(err, ErrPermanent) && attempt < p.maxAttempts {
		backoff := p.calculateBackoff(attempt)
		if err := p.queue.Defer(ctx, email.ID, err.Error(), p.now().Add(backoff)); err != nil {
			logger.Error("failed to defer email", "error", err)
			return true
		}
		metrics.IncEmailsDispatched("deferred")
		logger.Info("email deferred", "attempt", attempt, "backoff", backoff)
		return true
	}

	if err := p.queue.MarkFailed(ctx, email.ID, err.Error()); err != nil {
		logger.Error("failed to update email status", "error", err)
		return true
	}
	metrics.IncEmailsDispatched("failed")
	logger.Error("email failed permanently", "attempts", attempt, "max_attempts", p.maxAttempts)
	return true
}

// admit checks the send limits and postpones the email when one is hit.
// A throttle error postpones by the retry interval.
func (p *Processor) admit(ctx context.Context, email *models.OutboundEmail, logger *slog.Logger) bool {
	if p.throttle == nil {
		return true
	}

	res, err := p.throttle.Allow(ctx, &ratelimit.Request{CampaignID: email.CampaignID, Recipient: email.To})
	if err == nil && res.Allowed {
		return true
	}

	wait := p.retryInterval
	if err != nil {
		logger.Error("failed to check send limits", "error", err)
	} else {
		wait = res.RetryAfter
		logger.Debug("send limit reached", "level", res.DeniedBy, "retry_after", wait)
	}

	if err := p.queue.Postpone(ctx, email.ID, p.now().Add(wait)); err != nil {
		logger.Error("failed to postpone email", "error", err)
	}
	metrics.IncEmailsDispatched("throttled")
	return false
}

// calculateBackoff doubles the retry interval per attempt, capped at one hour
func (p *Processor) calculateBackoff(attempt int) time.Duration {
	multiplier := 1 << min(attempt-1, 4)
	return min(time.Duration(multiplier)*p.retryInterval, time.Hour)
}
