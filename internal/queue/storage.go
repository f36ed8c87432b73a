package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/db"
	"github.com/foxzi/outreach/internal/models"
)

var (
	bucketEmails         = []byte("emails")
	bucketQueued         = []byte("email_queue")
	bucketDeferred       = []byte("email_deferred")
	bucketInFlight       = []byte("email_inflight")
	bucketCampaignEmails = []byte("campaign_emails")
	bucketLeadEmails     = []byte("lead_emails")
	bucketDispatchable   = []byte("dispatchable")
)

// indexTimeLen is the length of the timestamp part of db.IndexKey
const indexTimeLen = len("2006-01-02T15:04:05.000000000Z")

// Storage is the outbound email queue backed by BoltDB.
//
// An email lives in exactly one of the queued, deferred or in-flight
// indexes until it is sent or fails. Emails of a campaign are only handed
// out while the campaign is marked dispatchable.
type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// NewStorage creates the queue buckets
func NewStorage(bdb *bolt.DB) (*Storage, error) {
	err := db.EnsureBuckets(bdb,
		bucketEmails, bucketQueued, bucketDeferred, bucketInFlight,
		bucketCampaignEmails, bucketLeadEmails, bucketDispatchable,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue buckets: %w", err)
	}
	return &Storage{db: bdb, now: time.Now}, nil
}

// EnqueueTx stores emails as queued inside the caller's transaction
func (s *Storage) EnqueueTx(tx *bolt.Tx, emails []*models.OutboundEmail) error {
	emailsB := tx.Bucket(bucketEmails)
	queued := tx.Bucket(bucketQueued)
	byCampaign := tx.Bucket(bucketCampaignEmails)
	byLead := tx.Bucket(bucketLeadEmails)

	now := s.now()
	for _, e := range emails {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.UpdatedAt = e.CreatedAt
		e.Status = models.EmailQueued

		if err := putEmail(emailsB, e); err != nil {
			return err
		}
		if err := queued.Put(db.IndexKey(e.CreatedAt, e.ID), []byte(e.ID)); err != nil {
			return fmt.Errorf("failed to add to queue index: %w", err)
		}
		if err := byCampaign.Put(db.PrefixKey(e.CampaignID, e.CreatedAt, e.ID), []byte(e.ID)); err != nil {
			return err
		}
		if err := byLead.Put(db.PrefixKey(e.LeadID, e.CreatedAt, e.ID), []byte(e.ID)); err != nil {
			return err
		}
	}
	return nil
}

// SetDispatchableTx marks whether the campaign's queued emails may be handed out
func (s *Storage) SetDispatchableTx(tx *bolt.Tx, campaignID string, dispatchable bool) error {
	b := tx.Bucket(bucketDispatchable)
	if dispatchable {
		return b.Put([]byte(campaignID), []byte{1})
	}
	return b.Delete([]byte(campaignID))
}

// PurgeQueuedTx drops the campaign's emails that never left the queue.
// Claimed, sent and failed emails are kept.
func (s *Storage) PurgeQueuedTx(tx *bolt.Tx, campaignID string) (int, error) {
	emailsB := tx.Bucket(bucketEmails)
	inflight := tx.Bucket(bucketInFlight)
	byCampaign := tx.Bucket(bucketCampaignEmails)

	var victims []*models.OutboundEmail
	prefix := []byte(campaignID + "/")
	c := byCampaign.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		data := emailsB.Get(v)
		if data == nil {
			continue
		}
		var e models.OutboundEmail
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if e.Status != models.EmailQueued || inflight.Get(v) != nil {
			continue
		}
		victims = append(victims, &e)
	}

	for _, e := range victims {
		if err := s.removeTx(tx, e); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

// removeTx deletes an email and every index entry pointing at it
func (s *Storage) removeTx(tx *bolt.Tx, e *models.OutboundEmail) error {
	if err := tx.Bucket(bucketQueued).Delete(db.IndexKey(e.CreatedAt, e.ID)); err != nil {
		return err
	}
	if e.RetryAt != nil {
		if err := tx.Bucket(bucketDeferred).Delete(db.IndexKey(*e.RetryAt, e.ID)); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketCampaignEmails).Delete(db.PrefixKey(e.CampaignID, e.CreatedAt, e.ID)); err != nil {
		return err
	}
	if err := tx.Bucket(bucketLeadEmails).Delete(db.PrefixKey(e.LeadID, e.CreatedAt, e.ID)); err != nil {
		return err
	}
	return tx.Bucket(bucketEmails).Delete([]byte(e.ID))
}

// Dequeue claims the next email of a dispatchable campaign. Deferred emails
// whose retry time has passed go first, then queued ones in creation order.
// Returns nil, nil if nothing is dispatchable.
func (s *Storage) Dequeue(ctx context.Context) (*models.OutboundEmail, error) {
	var email *models.OutboundEmail

	err := s.db.Update(func(tx *bolt.Tx) error {
		now := s.now()

		claimed, err := s.claimFrom(tx, bucketDeferred, func(k []byte) bool {
			return !parseTimestampFromKey(k).After(now)
		})
		if err != nil || claimed != nil {
			email = claimed
			return err
		}

		email, err = s.claimFrom(tx, bucketQueued, nil)
		return err
	})

	return email, err
}

// claimFrom walks an index in key order and claims the first email whose
// campaign is dispatchable. ready stops the walk when it returns false.
func (s *Storage) claimFrom(tx *bolt.Tx, index []byte, ready func(k []byte) bool) (*models.OutboundEmail, error) {
	emailsB := tx.Bucket(bucketEmails)
	dispatchable := tx.Bucket(bucketDispatchable)
	c := tx.Bucket(index).Cursor()

	for k, v := c.First(); k != nil; k, v = c.Next() {
		if ready != nil && !ready(k) {
			break // All remaining are in the future
		}

		data := emailsB.Get(v)
		if data == nil {
			// Email was deleted, clean up index
			if err := c.Delete(); err != nil {
				return nil, err
			}
			continue
		}

		var e models.OutboundEmail
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if dispatchable.Get([]byte(e.CampaignID)) == nil {
			continue // campaign paused, completed or deleted
		}

		if err := c.Delete(); err != nil {
			return nil, err
		}
		if err := tx.Bucket(bucketInFlight).Put([]byte(e.ID), []byte{1}); err != nil {
			return nil, err
		}

		e.RetryAt = nil
		e.UpdatedAt = s.now()
		if err := putEmail(emailsB, &e); err != nil {
			return nil, err
		}
		return &e, nil
	}
	return nil, nil
}

// MarkSent records a successful hand-off. Returns nil, nil if the email no
// longer exists.
func (s *Storage) MarkSent(ctx context.Context, id string, at time.Time) (*models.OutboundEmail, error) {
	var email *models.OutboundEmail

	err := s.db.Update(func(tx *bolt.Tx) error {
		e, err := getEmail(tx, id)
		if err != nil || e == nil {
			return err
		}
		if err := tx.Bucket(bucketInFlight).Delete([]byte(id)); err != nil {
			return err
		}

		e.Status = models.EmailSent
		e.Attempts++
		e.LastError = ""
		e.SentAt = &at
		e.UpdatedAt = s.now()
		email = e
		return putEmail(tx.Bucket(bucketEmails), e)
	})

	return email, err
}

// MarkFailed records a permanent failure
func (s *Storage) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		e, err := getEmail(tx, id)
		if err != nil || e == nil {
			return err
		}
		if err := tx.Bucket(bucketInFlight).Delete([]byte(id)); err != nil {
			return err
		}

		e.Status = models.EmailFailed
		e.Attempts++
		e.LastError = reason
		e.UpdatedAt = s.now()
		return putEmail(tx.Bucket(bucketEmails), e)
	})
}

// Defer puts a claimed email back for another attempt at retryAt
func (s *Storage) Defer(ctx context.Context, id string, reason string, retryAt time.Time) error {
	return s.requeue(id, retryAt, func(e *models.OutboundEmail) {
		e.Attempts++
		e.LastError = reason
	})
}

// Postpone puts a claimed email back until retryAt without using up an
// attempt, e.g. when a send limit is reached
func (s *Storage) Postpone(ctx context.Context, id string, retryAt time.Time) error {
	return s.requeue(id, retryAt, nil)
}

func (s *Storage) requeue(id string, retryAt time.Time, mutate func(e *models.OutboundEmail)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		e, err := getEmail(tx, id)
		if err != nil || e == nil {
			return err
		}
		if err := tx.Bucket(bucketInFlight).Delete([]byte(id)); err != nil {
			return err
		}

		if mutate != nil {
			mutate(e)
		}
		e.RetryAt = &retryAt
		e.UpdatedAt = s.now()
		if err := putEmail(tx.Bucket(bucketEmails), e); err != nil {
			return err
		}
		return tx.Bucket(bucketDeferred).Put(db.IndexKey(retryAt, e.ID), []byte(e.ID))
	})
}

// Recover returns claimed emails to the queue after an unclean shutdown
func (s *Storage) Recover(ctx context.Context) (int, error) {
	recovered := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		inflight := tx.Bucket(bucketInFlight)
		queued := tx.Bucket(bucketQueued)

		var ids [][]byte
		if err := inflight.ForEach(func(k, _ []byte) error {
			ids = append(ids, append([]byte{}, k...))
			return nil
		}); err != nil {
			return err
		}

		for _, id := range ids {
			if err := inflight.Delete(id); err != nil {
				return err
			}
			e, err := getEmail(tx, string(id))
			if err != nil {
				return err
			}
			if e == nil || e.Status != models.EmailQueued {
				continue
			}
			if err := queued.Put(db.IndexKey(e.CreatedAt, e.ID), id); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})

	return recovered, err
}

// Get retrieves an email by ID. Returns nil, nil if not found.
func (s *Storage) Get(ctx context.Context, id string) (*models.OutboundEmail, error) {
	var email *models.OutboundEmail
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		email, err = getEmail(tx, id)
		return err
	})
	return email, err
}

// Update stores engagement changes of a dispatched email. Queue indexes are
// not touched.
func (s *Storage) Update(ctx context.Context, email *models.OutboundEmail) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketEmails).Get([]byte(email.ID)) == nil {
			return fmt.Errorf("email %s not found", email.ID)
		}
		email.UpdatedAt = s.now()
		return putEmail(tx.Bucket(bucketEmails), email)
	})
}

// List returns emails matching the filter, oldest first, and the total
// number of matches before pagination
func (s *Storage) List(ctx context.Context, filter models.EmailFilter) ([]*models.OutboundEmail, int, error) {
	var all []*models.OutboundEmail

	err := s.db.View(func(tx *bolt.Tx) error {
		emailsB := tx.Bucket(bucketEmails)

		keep := func(data []byte) {
			if data == nil {
				return
			}
			var e models.OutboundEmail
			if err := json.Unmarshal(data, &e); err != nil {
				return
			}
			if filter.Status != "" && e.Status != filter.Status {
				return
			}
			all = append(all, &e)
		}

		if filter.CampaignID != "" {
			prefix := []byte(filter.CampaignID + "/")
			c := tx.Bucket(bucketCampaignEmails).Cursor()
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				keep(emailsB.Get(v))
			}
			return nil
		}

		return emailsB.ForEach(func(_, v []byte) error {
			keep(v)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	if filter.CampaignID == "" {
		slices.SortFunc(all, func(a, b *models.OutboundEmail) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}

	return paginate(all, filter.Offset, filter.Limit), len(all), nil
}

// LatestDispatched returns the most recent dispatched email of a lead, or
// nil if none was dispatched
func (s *Storage) LatestDispatched(ctx context.Context, leadID string) (*models.OutboundEmail, error) {
	var email *models.OutboundEmail

	err := s.db.View(func(tx *bolt.Tx) error {
		emailsB := tx.Bucket(bucketEmails)
		prefix := []byte(leadID + "/")
		c := tx.Bucket(bucketLeadEmails).Cursor()

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := emailsB.Get(v)
			if data == nil {
				continue
			}
			var e models.OutboundEmail
			if err := json.Unmarshal(data, &e); err != nil {
				continue
			}
			if e.Status.Dispatched() {
				email = &e
			}
		}
		return nil
	})

	return email, err
}

// ForEach calls fn for every stored email. Iteration stops at the first error.
func (s *Storage) ForEach(ctx context.Context, fn func(*models.OutboundEmail) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEmails).ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e models.OutboundEmail
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}
			return fn(&e)
		})
	})
}

// Stats returns email counts per status
func (s *Storage) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		inflight := tx.Bucket(bucketInFlight)

		return tx.Bucket(bucketEmails).ForEach(func(k, v []byte) error {
			var e models.OutboundEmail
			if err := json.Unmarshal(v, &e); err != nil {
				return nil
			}

			stats.Total++
			switch e.Status {
			case models.EmailQueued:
				switch {
				case inflight.Get(k) != nil:
					stats.InFlight++
				case e.RetryAt != nil:
					stats.Deferred++
				default:
					stats.Queued++
				}
			case models.EmailSent:
				stats.Sent++
			case models.EmailOpened:
				stats.Opened++
			case models.EmailReplied:
				stats.Replied++
			case models.EmailFailed:
				stats.Failed++
			}
			return nil
		})
	})

	return stats, err
}

func getEmail(tx *bolt.Tx, id string) (*models.OutboundEmail, error) {
	data := tx.Bucket(bucketEmails).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var e models.OutboundEmail
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email: %w", err)
	}
	return &e, nil
}

func putEmail(b *bolt.Bucket, e *models.OutboundEmail) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}
	if err := b.Put([]byte(e.ID), data); err != nil {
		return fmt.Errorf("failed to store email: %w", err)
	}
	return nil
}

// parseTimestampFromKey extracts the timestamp of a db.IndexKey
func parseTimestampFromKey(key []byte) time.Time {
	if len(key) < indexTimeLen {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02T15:04:05.000000000Z", string(key[:indexTimeLen]))
	if err != nil {
		return time.Time{}
	}
	return t
}

func paginate[T any](items []T, offset, limit int) []T {
	offset = max(offset, 0)
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
