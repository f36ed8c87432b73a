package template

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
)

var (
	bucketTemplates     = []byte("templates")
	bucketTemplateNames = []byte("template_names")
	bucketTemplateMeta  = []byte("template_meta")

	keyDefaultTemplate = []byte("default")
)

// Storage provides template storage operations
type Storage struct {
	db *bolt.DB
}

// NewStorage creates a new template storage
func NewStorage(bdb *bolt.DB) (*Storage, error) {
	if err := db.EnsureBuckets(bdb, bucketTemplates, bucketTemplateNames, bucketTemplateMeta); err != nil {
		return nil, fmt.Errorf("failed to create template buckets: %w", err)
	}
	return &Storage{db: bdb}, nil
}

func validateTemplate(tmpl *models.EmailTemplate) error {
	if strings.TrimSpace(tmpl.Name) == "" {
		return &models.ValidationError{Field: "name", Message: "template name is required"}
	}
	if strings.TrimSpace(tmpl.Subject) == "" {
		return &models.ValidationError{Field: "subject", Message: "template subject is required"}
	}
	return nil
}

// Create creates a new template
func (s *Storage) Create(ctx context.Context, tmpl *models.EmailTemplate) error {
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		names := tx.Bucket(bucketTemplateNames)

		// Check name uniqueness
		if existing := names.Get([]byte(tmpl.Name)); existing != nil {
			return &models.ValidationError{Field: "name", Message: fmt.Sprintf("template with name %q already exists", tmpl.Name)}
		}

		tmpl.ID = uuid.New().String()
		tmpl.CreatedAt = time.Now()
		tmpl.UpdatedAt = tmpl.CreatedAt

		if tmpl.IsDefault {
			if err := s.clearDefault(tx, tmpl.ID); err != nil {
				return err
			}
		}

		if err := putTemplate(templates, tmpl); err != nil {
			return err
		}

		return names.Put([]byte(tmpl.Name), []byte(tmpl.ID))
	})
}

// Get retrieves a template by ID. Returns nil, nil if not found.
func (s *Storage) Get(ctx context.Context, id string) (*models.EmailTemplate, error) {
	var tmpl *models.EmailTemplate

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return nil
		}

		tmpl = &models.EmailTemplate{}
		return json.Unmarshal(data, tmpl)
	})

	return tmpl, err
}

// GetDefault returns the template flagged as default, or nil
func (s *Storage) GetDefault(ctx context.Context) (*models.EmailTemplate, error) {
	var tmpl *models.EmailTemplate

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTemplateMeta).Get(keyDefaultTemplate)
		if id == nil {
			return nil
		}

		data := tx.Bucket(bucketTemplates).Get(id)
		if data == nil {
			return nil
		}

		tmpl = &models.EmailTemplate{}
		return json.Unmarshal(data, tmpl)
	})

	return tmpl, err
}

// List returns templates with optional filtering and the total number of
// matches before pagination
func (s *Storage) List(ctx context.Context, filter models.TemplateFilter) ([]*models.EmailTemplate, int, error) {
	var templates []*models.EmailTemplate
	total := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTemplates).Cursor()
		search := strings.ToLower(filter.Search)

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var tmpl models.EmailTemplate
			if err := json.Unmarshal(v, &tmpl); err != nil {
				continue
			}

			// Apply search filter
			if search != "" &&
				!strings.Contains(strings.ToLower(tmpl.Name), search) &&
				!strings.Contains(strings.ToLower(tmpl.Subject), search) {
				continue
			}

			total++
			if total <= filter.Offset {
				continue
			}
			if filter.Limit > 0 && len(templates) >= filter.Limit {
				continue
			}
			templates = append(templates, &tmpl)
		}

		return nil
	})

	return templates, total, err
}

// Update updates an existing template
func (s *Storage) Update(ctx context.Context, tmpl *models.EmailTemplate) error {
	if err := validateTemplate(tmpl); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		names := tx.Bucket(bucketTemplateNames)

		existingData := templates.Get([]byte(tmpl.ID))
		if existingData == nil {
			return models.NotFound(models.ErrTemplateNotFound, tmpl.ID)
		}

		var existing models.EmailTemplate
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}

		// If name changed, update index
		if existing.Name != tmpl.Name {
			if existingID := names.Get([]byte(tmpl.Name)); existingID != nil {
				return &models.ValidationError{Field: "name", Message: fmt.Sprintf("template with name %q already exists", tmpl.Name)}
			}
			if err := names.Delete([]byte(existing.Name)); err != nil {
				return err
			}
			if err := names.Put([]byte(tmpl.Name), []byte(tmpl.ID)); err != nil {
				return err
			}
		}

		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = time.Now()

		meta := tx.Bucket(bucketTemplateMeta)
		switch {
		case tmpl.IsDefault && !existing.IsDefault:
			if err := s.clearDefault(tx, tmpl.ID); err != nil {
				return err
			}
		case !tmpl.IsDefault && existing.IsDefault:
			if err := meta.Delete(keyDefaultTemplate); err != nil {
				return err
			}
		}

		return putTemplate(templates, tmpl)
	})
}

// Delete removes a template by ID
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)

		data := templates.Get([]byte(id))
		if data == nil {
			return nil // Already deleted
		}

		var tmpl models.EmailTemplate
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return err
		}

		if err := tx.Bucket(bucketTemplateNames).Delete([]byte(tmpl.Name)); err != nil {
			return err
		}

		if tmpl.IsDefault {
			if err := tx.Bucket(bucketTemplateMeta).Delete(keyDefaultTemplate); err != nil {
				return err
			}
		}

		return templates.Delete([]byte(id))
	})
}

// Count returns the number of stored templates
func (s *Storage) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketTemplates).Stats().KeyN
		return nil
	})
	return count, err
}

// clearDefault unsets is_default on the current default template and
// records newID as the default
func (s *Storage) clearDefault(tx *bolt.Tx, newID string) error {
	templates := tx.Bucket(bucketTemplates)
	meta := tx.Bucket(bucketTemplateMeta)

	if oldID := meta.Get(keyDefaultTemplate); oldID != nil && string(oldID) != newID {
		if data := templates.Get(oldID); data != nil {
			var old models.EmailTemplate
			if err := json.Unmarshal(data, &old); err != nil {
				return err
			}
			old.IsDefault = false
			old.UpdatedAt = time.Now()
			if err := putTemplate(templates, &old); err != nil {
				return err
			}
		}
	}

	return meta.Put(keyDefaultTemplate, []byte(newID))
}

func putTemplate(b *bolt.Bucket, tmpl *models.EmailTemplate) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	return b.Put([]byte(tmpl.ID), data)
}
