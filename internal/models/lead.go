package models

import (
	"fmt"
	"strings"
	"time"
)

// LeadStatus is a position in the outreach funnel
type LeadStatus string

const (
	LeadUploaded   LeadStatus = "uploaded"
	LeadContacted  LeadStatus = "contacted"
	LeadReplied    LeadStatus = "replied"
	LeadInterested LeadStatus = "interested"
	LeadBooked     LeadStatus = "booked"
	LeadClosed     LeadStatus = "closed"
)

// FunnelOrder lists lead statuses from first to last funnel stage
var FunnelOrder = []LeadStatus{
	LeadUploaded,
	LeadContacted,
	LeadReplied,
	LeadInterested,
	LeadBooked,
	LeadClosed,
}

// ParseLeadStatus rejects anything outside the funnel vocabulary
func ParseLeadStatus(s string) (LeadStatus, error) {
	st := LeadStatus(strings.ToLower(strings.TrimSpace(s)))
	if st.Rank() < 0 {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown lead status %q", s)}
	}
	return st, nil
}

// Rank returns the funnel position, or -1 for an unknown status
func (s LeadStatus) Rank() int {
	for i, st := range FunnelOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// CanAdvanceTo reports whether moving to next keeps the funnel monotonic.
// Staying in place is allowed.
func (s LeadStatus) CanAdvanceTo(next LeadStatus) bool {
	from, to := s.Rank(), next.Rank()
	return from >= 0 && to >= from
}

// Lead is a single outreach contact
type Lead struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name,omitempty"`
	Company        string            `json:"company,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	Address        string            `json:"address,omitempty"`
	PropertyType   string            `json:"property_type,omitempty"`
	EstimatedValue string            `json:"estimated_value,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Status         LeadStatus        `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	BookedAt       *time.Time        `json:"booked_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DisplayName returns "First Last", falling back to the email
func (l *Lead) DisplayName() string {
	name := strings.TrimSpace(l.FirstName + " " + l.LastName)
	if name == "" {
		return l.Email
	}
	return name
}

// Fields returns the personalization field map for this lead.
// Missing optional fields map to the empty string.
func (l *Lead) Fields() map[string]string {
	fields := make(map[string]string, len(l.Attributes)+11)
	for k, v := range l.Attributes {
		fields[k] = v
	}

	fields["id"] = l.ID
	fields["email"] = l.Email
	fields["first_name"] = l.FirstName
	fields["last_name"] = l.LastName
	fields["full_name"] = strings.TrimSpace(l.FirstName + " " + l.LastName)
	fields["company"] = l.Company
	fields["phone"] = l.Phone
	fields["address"] = l.Address
	fields["property_type"] = l.PropertyType
	fields["estimated_value"] = l.EstimatedValue
	fields["status"] = string(l.Status)

	return fields
}

// LeadFilter for listing leads
type LeadFilter struct {
	Status LeadStatus
	Search string // Search in email, names, company
	Limit  int
	Offset int
}
