// Package mailer enqueues outbound email. Delivery is owned by a
// separate consumer; from this service's perspective enqueueing is
// fire-and-forget.
package mailer

import (
	"context"

	"invoicing-service/internal/broker"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Mailer enqueues messages for delivery.
type Mailer interface {
	Enqueue(ctx context.Context, msg Message) error
}

// KafkaMailer publishes messages onto the outbound-email topic.
type KafkaMailer struct {
	producer *broker.Producer
}

func NewKafkaMailer(producer *broker.Producer) *KafkaMailer {
	return &KafkaMailer{producer: producer}
}

func (m *KafkaMailer) Enqueue(ctx context.Context, msg Message) error {
	return m.producer.PublishEvent(ctx, msg.To, msg)
}
