package broker

import (
	"context"
	"fmt"

	"invoicing-service/internal/models"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentIngested publishes PaymentIngested event
func (ep *EventPublisher) PublishPaymentIngested(ctx context.Context, event *models.PaymentIngestedEvent) error {
	key := fmt.Sprintf("payment-%s", event.PaymentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDuplicateCaseOpened publishes DuplicateCaseOpened event
func (ep *EventPublisher) PublishDuplicateCaseOpened(ctx context.Context, event *models.DuplicateCaseOpenedEvent) error {
	key := fmt.Sprintf("case-%s", event.CaseID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishDuplicateCaseResolved publishes DuplicateCaseResolved event
func (ep *EventPublisher) PublishDuplicateCaseResolved(ctx context.Context, event *models.DuplicateCaseResolvedEvent) error {
	key := fmt.Sprintf("case-%s", event.CaseID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishInvoiceOrderCreated publishes InvoiceOrderCreated event
func (ep *EventPublisher) PublishInvoiceOrderCreated(ctx context.Context, event *models.InvoiceOrderCreatedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishInvoiceIssued publishes InvoiceIssued event
func (ep *EventPublisher) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishInvoiceFailed publishes InvoiceFailed event
func (ep *EventPublisher) PublishInvoiceFailed(ctx context.Context, event *models.InvoiceFailedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}
