package models

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// ParseCampaignStatus rejects unknown status strings
func ParseCampaignStatus(s string) (CampaignStatus, error) {
	switch st := CampaignStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case CampaignDraft, CampaignScheduled, CampaignActive, CampaignPaused, CampaignCompleted:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown campaign status %q", s)}
}

// Campaign represents an outreach campaign
type Campaign struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	EmailTemplate string         `json:"email_template,omitempty"` // name of the template used at start
	TemplateID    string         `json:"template_id,omitempty"`
	Status        CampaignStatus `json:"status"`
	LeadCount     int            `json:"lead_count"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CampaignFilter for listing campaigns
type CampaignFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
