package queue

import (
	"context"
	"log/slog"

	"github.com/foxzi/outreach/internal/models"
)

// LogSender writes each email to the log instead of delivering it.
// Useful for demos and local runs.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the email
func (s *LogSender) Send(ctx context.Context, email *models.OutboundEmail) error {
	s.logger.Info("outbound email",
		"email_id", email.ID,
		"campaign_id", email.CampaignID,
		"lead_id", email.LeadID,
		"to", email.To,
		"subject", email.Subject,
		"body_bytes", len(email.Body),
	)
	return nil
}
