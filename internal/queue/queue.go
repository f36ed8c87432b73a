package queue

import (
	"context"
	"time"

	"github.com/foxzi/outreach/internal/models"
)

// Queue defines the dispatch side of the outbound email queue
type Queue interface {
	// Dequeue claims the oldest queued email of an active campaign.
	// Returns nil, nil if nothing is dispatchable.
	Dequeue(ctx context.Context) (*models.OutboundEmail, error)

	// MarkSent records a successful hand-off
	MarkSent(ctx context.Context, id string, at time.Time) (*models.OutboundEmail, error)

	// MarkFailed records a permanent failure
	MarkFailed(ctx context.Context, id string, reason string) error

	// Defer returns a claimed email for another attempt at retryAt
	Defer(ctx context.Context, id string, reason string, retryAt time.Time) error

	// Postpone returns a claimed email until retryAt without counting an attempt
	Postpone(ctx context.Context, id string, retryAt time.Time) error

	// Recover returns claimed but unfinished emails to the queue
	Recover(ctx context.Context) (int, error)
}
