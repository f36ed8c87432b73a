package models

import (
	"fmt"
	"strings"
	"time"
)

// EmailStatus is the delivery status of an outbound email
type EmailStatus string

const (
	EmailQueued  EmailStatus = "queued"
	EmailSent    EmailStatus = "sent"
	EmailOpened  EmailStatus = "opened"
	EmailReplied EmailStatus = "replied"
	EmailFailed  EmailStatus = "failed"
)

// ParseEmailStatus rejects unknown status strings
func ParseEmailStatus(s string) (EmailStatus, error) {
	switch st := EmailStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case EmailQueued, EmailSent, EmailOpened, EmailReplied, EmailFailed:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown email status %q", s)}
}

// Dispatched reports whether the email left the queue successfully
func (s EmailStatus) Dispatched() bool {
	return s == EmailSent || s == EmailOpened || s == EmailReplied
}

// OutboundEmail is one personalized message of a campaign.
// Subject and Body are materialized at start and independent of later
// template edits.
type OutboundEmail struct {
	ID         string      `json:"id"`
	CampaignID string      `json:"campaign_id"`
	LeadID     string      `json:"lead_id"`
	TemplateID string      `json:"template_id,omitempty"`
	To         string      `json:"to"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body"`
	Status     EmailStatus `json:"status"`
	LastError  string      `json:"last_error,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	RetryAt    *time.Time  `json:"retry_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	SentAt     *time.Time  `json:"sent_at,omitempty"`
	OpenedAt   *time.Time  `json:"opened_at,omitempty"`
	RepliedAt  *time.Time  `json:"replied_at,omitempty"`
	Sentiment  string      `json:"sentiment,omitempty"`
}

// EmailFilter for listing emails of a campaign
type EmailFilter struct {
	CampaignID string
	Status     EmailStatus
	Limit      int
	Offset     int
}

// QueueStats counts emails per status. Deferred emails are queued ones
// waiting for a retry.
type QueueStats struct {
	Queued   int64 `json:"queued"`
	InFlight int64 `json:"in_flight"`
	Deferred int64 `json:"deferred"`
	Sent     int64 `json:"sent"`
	Opened   int64 `json:"opened"`
	Replied  int64 `json:"replied"`
	Failed   int64 `json:"failed"`
	Total    int64 `json:"total"`
}
