// Package lead stores outreach contacts and their funnel status.
package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/db"
	"github.com/foxzi/outreach/internal/models"
)

var (
	bucketLeads        = []byte("leads")
	bucketLeadsCreated = []byte("leads_created")
	bucketLeadsByEmail = []byte("leads_by_email")
)

// Storage provides lead storage operations
type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// NewStorage creates a new lead storage
func NewStorage(bdb *bolt.DB) (*Storage, error) {
	if err := db.EnsureBuckets(bdb, bucketLeads, bucketLeadsCreated, bucketLeadsByEmail); err != nil {
		return nil, fmt.Errorf("failed to create lead buckets: %w", err)
	}
	return &Storage{db: bdb, now: time.Now}, nil
}

func emailKey(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}

func validateLead(l *models.Lead) error {
	l.Email = strings.TrimSpace(l.Email)
	if l.Email == "" {
		return &models.ValidationError{Field: "email", Message: "email is required"}
	}
	if _, err := mail.ParseAddress(l.Email); err != nil {
		return &models.ValidationError{Field: "email", Message: fmt.Sprintf("invalid email %q", l.Email)}
	}
	if strings.TrimSpace(l.FirstName) == "" {
		return &models.ValidationError{Field: "first_name", Message: "first name is required"}
	}
	if l.Status.Rank() < 0 {
		return &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown lead status %q", l.Status)}
	}
	return nil
}

// Create stores a new lead. Status defaults to uploaded.
func (s *Storage) Create(ctx context.Context, l *models.Lead) error {
	if l.Status == "" {
		l.Status = models.LeadUploaded
	}
	if err := validateLead(l); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		byEmail := tx.Bucket(bucketLeadsByEmail)
		if byEmail.Get(emailKey(l.Email)) != nil {
			return &models.ValidationError{Field: "email", Message: fmt.Sprintf("lead with email %q already exists", l.Email)}
		}

		l.ID = uuid.New().String()
		l.CreatedAt = s.now()
		l.UpdatedAt = l.CreatedAt

		if err := putLead(tx.Bucket(bucketLeads), l); err != nil {
			return err
		}
		if err := tx.Bucket(bucketLeadsCreated).Put(db.IndexKey(l.CreatedAt, l.ID), []byte(l.ID)); err != nil {
			return err
		}
		return byEmail.Put(emailKey(l.Email), []byte(l.ID))
	})
}

// Get retrieves a lead by ID. Returns nil, nil if not found.
func (s *Storage) Get(ctx context.Context, id string) (*models.Lead, error) {
	var lead *models.Lead
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		lead, err = getLead(tx, id)
		return err
	})
	return lead, err
}

// Update replaces a lead's editable fields. The status may only move
// forward through the funnel.
func (s *Storage) Update(ctx context.Context, l *models.Lead) error {
	if err := validateLead(l); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := getLead(tx, l.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return models.NotFound(models.ErrLeadNotFound, l.ID)
		}

		if !existing.Status.CanAdvanceTo(l.Status) {
			return &models.ValidationError{
				Field:   "status",
				Message: fmt.Sprintf("cannot move lead from %s back to %s", existing.Status, l.Status),
			}
		}

		// If email changed, update index
		byEmail := tx.Bucket(bucketLeadsByEmail)
		oldKey, newKey := emailKey(existing.Email), emailKey(l.Email)
		if string(oldKey) != string(newKey) {
			if byEmail.Get(newKey) != nil {
				return &models.ValidationError{Field: "email", Message: fmt.Sprintf("lead with email %q already exists", l.Email)}
			}
			if err := byEmail.Delete(oldKey); err != nil {
				return err
			}
			if err := byEmail.Put(newKey, []byte(l.ID)); err != nil {
				return err
			}
		}

		l.CreatedAt = existing.CreatedAt
		l.UpdatedAt = s.now()
		if l.BookedAt == nil {
			l.BookedAt = existing.BookedAt
		}
		return putLead(tx.Bucket(bucketLeads), l)
	})
}

// Advance moves a lead to status if that keeps the funnel monotonic.
// Returns the stored lead and whether it changed.
func (s *Storage) Advance(ctx context.Context, id string, status models.LeadStatus, at time.Time) (*models.Lead, bool, error) {
	var (
		lead    *models.Lead
		changed bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		lead, err = getLead(tx, id)
		if err != nil {
			return err
		}
		if lead == nil {
			return models.NotFound(models.ErrLeadNotFound, id)
		}
		if lead.Status == status || !lead.Status.CanAdvanceTo(status) {
			return nil
		}

		lead.Status = status
		if status == models.LeadBooked && lead.BookedAt == nil {
			lead.BookedAt = &at
		}
		lead.UpdatedAt = s.now()
		changed = true
		return putLead(tx.Bucket(bucketLeads), lead)
	})

	return lead, changed, err
}

// MarkContacted moves an uploaded lead to contacted. Leads further down the
// funnel are left alone.
func (s *Storage) MarkContacted(ctx context.Context, id string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		lead, err := getLead(tx, id)
		if err != nil || lead == nil {
			return err
		}
		if lead.Status != models.LeadUploaded {
			return nil
		}
		lead.Status = models.LeadContacted
		lead.UpdatedAt = at
		return putLead(tx.Bucket(bucketLeads), lead)
	})
}

// Delete removes a lead by ID
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		lead, err := getLead(tx, id)
		if err != nil {
			return err
		}
		if lead == nil {
			return nil // Already deleted
		}

		if err := tx.Bucket(bucketLeadsByEmail).Delete(emailKey(lead.Email)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketLeadsCreated).Delete(db.IndexKey(lead.CreatedAt, lead.ID)); err != nil {
			return err
		}
		return tx.Bucket(bucketLeads).Delete([]byte(id))
	})
}

// List returns leads newest first with optional filtering, and the total
// number of matches before pagination
func (s *Storage) List(ctx context.Context, filter models.LeadFilter) ([]*models.Lead, int, error) {
	var leads []*models.Lead
	total := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		leadsB := tx.Bucket(bucketLeads)
		c := tx.Bucket(bucketLeadsCreated).Cursor()
		search := strings.ToLower(strings.TrimSpace(filter.Search))

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			data := leadsB.Get(v)
			if data == nil {
				continue
			}
			var l models.Lead
			if err := json.Unmarshal(data, &l); err != nil {
				continue
			}

			if filter.Status != "" && l.Status != filter.Status {
				continue
			}
			if search != "" && !matchesSearch(&l, search) {
				continue
			}

			total++
			if total <= filter.Offset {
				continue
			}
			if filter.Limit > 0 && len(leads) >= filter.Limit {
				continue
			}
			leads = append(leads, &l)
		}
		return nil
	})

	return leads, total, err
}

func matchesSearch(l *models.Lead, search string) bool {
	for _, field := range []string{l.Email, l.FirstName, l.LastName, l.Company, l.Address} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

// ForEach calls fn for every lead. Iteration stops at the first error.
func (s *Storage) ForEach(ctx context.Context, fn func(*models.Lead) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLeads).ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var l models.Lead
			if err := json.Unmarshal(v, &l); err != nil {
				return nil
			}
			return fn(&l)
		})
	})
}

// IDs returns every lead ID, newest first
func (s *Storage) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLeadsCreated).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			ids = append(ids, string(v))
		}
		return nil
	})
	return ids, err
}

// Count returns the number of stored leads
func (s *Storage) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketLeads).Stats().KeyN
		return nil
	})
	return count, err
}

func getLead(tx *bolt.Tx, id string) (*models.Lead, error) {
	data := tx.Bucket(bucketLeads).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var l models.Lead
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lead: %w", err)
	}
	return &l, nil
}

func putLead(b *bolt.Bucket, l *models.Lead) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}
	return b.Put([]byte(l.ID), data)
}
