// Package selection holds the lead/template choice made while starting a
// campaign.
package selection

import (
	"slices"
	"sync"

	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/models"
)

// Set is a mutable set of chosen lead IDs plus the chosen content source.
// It is safe for concurrent use.
type Set struct {
	mu      sync.Mutex
	leads   map[string]struct{}
	content campaign.ContentSource
}

// New creates an empty selection
func New() *Set {
	return &Set{leads: make(map[string]struct{})}
}

// Toggle adds id if absent and removes it if present
func (s *Set) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[id]; ok {
		delete(s.leads, id)
		return
	}
	s.leads[id] = struct{}{}
}

// Add selects every given id; already selected ids stay selected
func (s *Set) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			s.leads[id] = struct{}{}
		}
	}
}

// ToggleAll selects every id in all, or clears the selection when all of
// them are already selected
func (s *Set) ToggleAll(all []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containsAll(all) {
		clear(s.leads)
		return
	}
	for _, id := range all {
		s.leads[id] = struct{}{}
	}
}

// Clear empties the lead selection. The content choice is kept.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.leads)
}

// SetContent records the chosen template or inline subject/body
func (s *Set) SetContent(src campaign.ContentSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = src
}

// Content returns the chosen content source, nil if none
func (s *Set) Content() campaign.ContentSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Contains reports whether id is selected
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.leads[id]
	return ok
}

// Len returns the number of selected leads
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

// IDs returns the selected lead IDs in sorted order
func (s *Set) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.leads))
	for id := range s.leads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsStartable is true when at least one lead and a valid content source
// are chosen
func (s *Set) IsStartable() bool {
	return s.Validate() == nil
}

// Validate names the first missing piece of the selection
func (s *Set) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.leads) == 0 {
		return &models.ValidationError{Field: "lead_ids", Message: "at least one lead must be selected"}
	}
	if s.content == nil {
		return &models.ValidationError{Field: "email_template_id", Message: "a template or subject and body is required"}
	}
	return s.content.Validate()
}

func (s *Set) containsAll(all []string) bool {
	if len(all) == 0 {
		return false
	}
	for _, id := range all {
		if _, ok := s.leads[id]; !ok {
			return false
		}
	}
	return true
}
