// Package notify publishes workflow events to NATS JetStream for the
// platform notification service.
//
// Subject convention: notifications.approvals.<event_type>
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never roll back a committed
// transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/bizsuite/be-approvals/internal/workflow"
)

// Publisher publishes approval workflow events. A zero-value Publisher (no
// connection) silently drops everything, which keeps local development and
// tests free of a broker.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  zerolog.Logger
}

// Envelope is the JSON schema published per event.
type Envelope struct {
	workflow.Event
	Recipients   []string `json:"recipients"`
	ResourceType string   `json:"resource_type"`
	Category     string   `json:"category"`
}

// NewPublisher connects to NATS. An empty URL returns a disabled publisher.
func NewPublisher(url string, log zerolog.Logger) (*Publisher, error) {
	if url == "" {
		log.Info().Msg("notification publisher disabled (no NATS_URL)")
		return &Publisher{log: log}, nil
	}

	conn, err := nats.Connect(url, nats.Name("be-approvals"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &Publisher{conn: conn, js: js, log: log}, nil
}

// Publish announces one event to the configured recipients.
// Subject: notifications.approvals.<event_type>
func (p *Publisher) Publish(ctx context.Context, event workflow.Event, recipients []string) {
	if p.js == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	data, err := json.Marshal(&Envelope{
		Event:        event,
		Recipients:   recipients,
		ResourceType: "approval_document",
		Category:     "approvals",
	})
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", event.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("document_id", event.DocumentID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", event.DocumentID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
