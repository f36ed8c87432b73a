package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/db"
	"github.com/foxzi/outreach/internal/models"
	"github.com/foxzi/outreach/internal/queue"
)

var (
	bucketCampaigns        = []byte("campaigns")
	bucketCampaignsCreated = []byte("campaigns_created")
)

// Storage persists campaigns. Writes that change status check the stored
// version and update the outbound queue in the same transaction.
type Storage struct {
	db    *bolt.DB
	queue *queue.Storage
	now   func() time.Time
}

// NewStorage creates a new campaign storage
func NewStorage(bdb *bolt.DB, q *queue.Storage) (*Storage, error) {
	if err := db.EnsureBuckets(bdb, bucketCampaigns, bucketCampaignsCreated); err != nil {
		return nil, fmt.Errorf("failed to create campaign buckets: %w", err)
	}
	return &Storage{db: bdb, queue: q, now: time.Now}, nil
}

// Create stores a new draft campaign
func (s *Storage) Create(ctx context.Context, c *models.Campaign) error {
	if strings.TrimSpace(c.Name) == "" {
		return &models.ValidationError{Field: "name", Message: "campaign name is required"}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		c.ID = uuid.New().String()
		c.Status = models.CampaignDraft
		c.Version = 1
		c.StartedAt, c.EndedAt = nil, nil
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt

		if err := putCampaign(tx.Bucket(bucketCampaigns), c); err != nil {
			return err
		}
		return tx.Bucket(bucketCampaignsCreated).Put(db.IndexKey(c.CreatedAt, c.ID), []byte(c.ID))
	})
}

// Get retrieves a campaign by ID. Returns nil, nil if not found.
func (s *Storage) Get(ctx context.Context, id string) (*models.Campaign, error) {
	var c *models.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		return err
	})
	return c, err
}

// List returns campaigns newest first with optional filtering, and the
// total number of matches before pagination
func (s *Storage) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int, error) {
	var campaigns []*models.Campaign
	total := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		campaignsB := tx.Bucket(bucketCampaigns)
		c := tx.Bucket(bucketCampaignsCreated).Cursor()
		search := strings.ToLower(strings.TrimSpace(filter.Search))

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			data := campaignsB.Get(v)
			if data == nil {
				continue
			}
			var camp models.Campaign
			if err := json.Unmarshal(data, &camp); err != nil {
				continue
			}

			if filter.Status != "" && camp.Status != filter.Status {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(camp.Name), search) &&
				!strings.Contains(strings.ToLower(camp.Description), search) {
				continue
			}

			total++
			if total <= filter.Offset {
				continue
			}
			if filter.Limit > 0 && len(campaigns) >= filter.Limit {
				continue
			}
			campaigns = append(campaigns, &camp)
		}
		return nil
	})

	return campaigns, total, err
}

// UpdateDetails changes name and description. Status fields are owned by
// the state machine and left untouched.
func (s *Storage) UpdateDetails(ctx context.Context, id, name, description string) (*models.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &models.ValidationError{Field: "name", Message: "campaign name is required"}
	}

	var c *models.Campaign
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		c, err = getCampaign(tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return models.NotFound(models.ErrCampaignNotFound, id)
		}

		c.Name = name
		c.Description = description
		c.Version++
		c.UpdatedAt = s.now()
		return putCampaign(tx.Bucket(bucketCampaigns), c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Save stores a status change if the stored version still equals
// expectedVersion, and sets the campaign's dispatch hold accordingly
func (s *Storage) Save(ctx context.Context, c *models.Campaign, expectedVersion int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.saveTx(tx, c, expectedVersion)
	})
}

// Activate stores an activated campaign and queues its emails atomically
func (s *Storage) Activate(ctx context.Context, c *models.Campaign, expectedVersion int, emails []*models.OutboundEmail) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.saveTx(tx, c, expectedVersion); err != nil {
			return err
		}
		return s.queue.EnqueueTx(tx, emails)
	})
}

func (s *Storage) saveTx(tx *bolt.Tx, c *models.Campaign, expectedVersion int) error {
	if _, err := checkVersion(tx, c.ID, expectedVersion); err != nil {
		return err
	}

	c.Version = expectedVersion + 1
	c.UpdatedAt = s.now()
	if err := putCampaign(tx.Bucket(bucketCampaigns), c); err != nil {
		return err
	}
	return s.queue.SetDispatchableTx(tx, c.ID, c.Status == models.CampaignActive)
}

// Delete removes a campaign and drops its undispatched emails. Returns the
// number of dropped emails.
func (s *Storage) Delete(ctx context.Context, id string, expectedVersion int) (int, error) {
	purged := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, err := checkVersion(tx, id, expectedVersion)
		if err != nil {
			return err
		}

		if purged, err = s.queue.PurgeQueuedTx(tx, id); err != nil {
			return err
		}
		if err := s.queue.SetDispatchableTx(tx, id, false); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCampaignsCreated).Delete(db.IndexKey(existing.CreatedAt, id)); err != nil {
			return err
		}
		return tx.Bucket(bucketCampaigns).Delete([]byte(id))
	})

	return purged, err
}

// CountActive returns the number of active campaigns
func (s *Storage) CountActive(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(_, v []byte) error {
			var c models.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			if c.Status == models.CampaignActive {
				count++
			}
			return nil
		})
	})
	return count, err
}

// checkVersion loads the stored campaign and rejects a stale writer
func checkVersion(tx *bolt.Tx, id string, expected int) (*models.Campaign, error) {
	existing, err := getCampaign(tx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, models.NotFound(models.ErrCampaignNotFound, id)
	}
	if existing.Version != expected {
		return nil, fmt.Errorf("%w: campaign %s changed (version %d, expected %d)",
			models.ErrConcurrentModification, id, existing.Version, expected)
	}
	return existing, nil
}

func getCampaign(tx *bolt.Tx, id string) (*models.Campaign, error) {
	data := tx.Bucket(bucketCampaigns).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var c models.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	return &c, nil
}

func putCampaign(b *bolt.Bucket, c *models.Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	return b.Put([]byte(c.ID), data)
}
