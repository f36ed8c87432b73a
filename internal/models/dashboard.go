package models

import "time"

// ActivityType is the kind of a dashboard feed entry
type ActivityType string

const (
	ActivityLeadCreated    ActivityType = "lead_created"
	ActivityEmailSent      ActivityType = "email_sent"
	ActivityReplyReceived  ActivityType = "reply_received"
	ActivityBookingCreated ActivityType = "booking_created"
)

// Activity is a single entry of the dashboard activity feed
type Activity struct {
	Type        ActivityType `json:"type"`
	LeadID      string       `json:"lead_id"`
	LeadName    string       `json:"lead_name"`
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Funnel holds lead counts per funnel stage
type Funnel struct {
	Uploaded   int `json:"uploaded"`
	Contacted  int `json:"contacted"`
	Replied    int `json:"replied"`
	Interested int `json:"interested"`
	Booked     int `json:"booked"`
	Closed     int `json:"closed"`
}

// Add increments the counter for status; unknown statuses are ignored
func (f *Funnel) Add(status LeadStatus) {
	switch status {
	case LeadUploaded:
		f.Uploaded++
	case LeadContacted:
		f.Contacted++
	case LeadReplied:
		f.Replied++
	case LeadInterested:
		f.Interested++
	case LeadBooked:
		f.Booked++
	case LeadClosed:
		f.Closed++
	}
}

// DashboardStats aggregated outreach statistics.
// OpenRate and ReplyRate are ratios in [0,1]; the *Percent fields carry the
// same values scaled to 0..100 for display.
type DashboardStats struct {
	TotalLeads       int     `json:"total_leads"`
	TotalEmailsSent  int     `json:"total_emails_sent"`
	EmailsOpened     int     `json:"emails_opened"`
	EmailsReplied    int     `json:"emails_replied"`
	TotalBookings    int     `json:"total_bookings"`
	OpenRate         float64 `json:"open_rate"`
	ReplyRate        float64 `json:"reply_rate"`
	OpenRatePercent  float64 `json:"open_rate_pct"`
	ReplyRatePercent float64 `json:"reply_rate_pct"`
	EmailsSentToday  int     `json:"emails_sent_today"`
	RepliesToday     int     `json:"replies_today"`
}

// Dashboard is the combined dashboard read model
type Dashboard struct {
	Stats          DashboardStats `json:"stats"`
	Funnel         Funnel         `json:"funnel"`
	RecentActivity []Activity     `json:"recent_activity"`
}

// QuickStats is a compact summary for headers and widgets
type QuickStats struct {
	TotalLeads      int `json:"total_leads"`
	ActiveCampaigns int `json:"active_campaigns"`
	EmailsQueued    int `json:"emails_queued"`
	EmailsSentToday int `json:"emails_sent_today"`
	RepliesToday    int `json:"replies_today"`
}
