package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/foxzi/outreach/internal/models"
)

// AMQPConfig contains the broker settings of AMQPSender
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string // declared and bound when set
}

// AMQPSender publishes emails to a RabbitMQ exchange where the external
// mailer picks them up. Publishes are confirmed by the broker.
type AMQPSender struct {
	cfg  AMQPConfig
	conn *amqp.Connection

	mu sync.Mutex // channels are not safe for concurrent publishing
	ch *amqp.Channel
}

// outboundMessage is the wire payload of a published email
type outboundMessage struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	LeadID     string `json:"lead_id"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// NewAMQPSender dials the broker and declares the topology
func NewAMQPSender(cfg AMQPConfig) (*AMQPSender, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "outreach.emails"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "email.outbound"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := setupTopology(ch, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &AMQPSender{cfg: cfg, conn: conn, ch: ch}, nil
}

func setupTopology(ch *amqp.Channel, cfg AMQPConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if cfg.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// newPublishing builds the persistent AMQP message for an email
func newPublishing(email *models.OutboundEmail) (amqp.Publishing, error) {
	body, err := json.Marshal(outboundMessage{
		ID:         email.ID,
		CampaignID: email.CampaignID,
		LeadID:     email.LeadID,
		To:         email.To,
		Subject:    email.Subject,
		Body:       email.Body,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal email: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    email.ID,
		Timestamp:    email.CreatedAt,
		Type:         "outreach.email",
		Headers: amqp.Table{
			"campaign_id": email.CampaignID,
			"lead_id":     email.LeadID,
		},
		Body: body,
	}, nil
}

// Send publishes the email and waits for the broker confirm
func (s *AMQPSender) Send(ctx context.Context, email *models.OutboundEmail) error {
	msg, err := newPublishing(email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	s.mu.Lock()
	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingKey, false, false, msg)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected email %s", email.ID)
	}
	return nil
}

// Close closes the channel and connection
func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.Close(); err != nil && err != amqp.ErrClosed {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
