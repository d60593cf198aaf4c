package service

import (
	"context"
	"fmt"
	"time"

	"invoicing-service/internal/fingerprint"
	"invoicing-service/internal/models"
	"invoicing-service/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceOrderStore is the store slice the invoice service needs.
type InvoiceOrderStore interface {
	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	GetOrCreateInvoiceOrder(ctx context.Context, o *models.InvoiceOrder) (*models.InvoiceOrder, bool, error)
	GetInvoiceOrderByID(ctx context.Context, id string) (*models.InvoiceOrder, error)
}

// OrderEventSink receives order-lifecycle events.
type OrderEventSink interface {
	PublishInvoiceOrderCreated(ctx context.Context, event *models.InvoiceOrderCreatedEvent) error
}

// InvoiceService creates invoice orders under their content-hash
// identity. Creation is idempotent: callers can retry freely and the
// same economic event always resolves to the same order.
type InvoiceService struct {
	store  InvoiceOrderStore
	events OrderEventSink
	logger *zap.Logger
}

// NewInvoiceService creates a new invoice service. events may be nil.
func NewInvoiceService(st InvoiceOrderStore, events OrderEventSink) *InvoiceService {
	return &InvoiceService{
		store:  st,
		events: events,
		logger: util.GetLogger(),
	}
}

// CreateOrderInput describes one invoice order request.
type CreateOrderInput struct {
	CustomerID string          `json:"customer_id" binding:"required"`
	Concept    string          `json:"concept" binding:"required"`
	PeriodKey  string          `json:"period_key"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Currency   string          `json:"currency" binding:"required"`
	PaymentIDs []string        `json:"payment_ids"`
}

// CreateOrder creates (or finds) the order for the given economic event.
// The returned bool reports whether this call created it.
func (s *InvoiceService) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.InvoiceOrder, bool, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.CreateOrder")
	defer span.End()

	customer, err := s.store.GetCustomerByID(ctx, in.CustomerID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load customer: %w", err)
	}
	if customer == nil || customer.Archived {
		return nil, false, ErrUnknownCustomer
	}

	order := &models.InvoiceOrder{
		ID:         fingerprint.InvoiceKey(in.CustomerID, in.Concept, in.PeriodKey, in.Amount, in.Currency),
		CustomerID: in.CustomerID,
		Concept:    in.Concept,
		PeriodKey:  in.PeriodKey,
		Amount:     in.Amount,
		Currency:   in.Currency,
		PaymentIDs: pq.StringArray(in.PaymentIDs),
		Status:     models.OrderStatusPending,
	}

	got, created, err := s.store.GetOrCreateInvoiceOrder(ctx, order)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create invoice order: %w", err)
	}

	if !created {
		s.logger.Info("Invoice order already exists",
			zap.String("order_id", got.ID),
			zap.String("customer_id", in.CustomerID))
		return got, false, nil
	}

	util.InvoiceOrdersCreatedTotal.Inc()
	s.logger.Info("Invoice order created",
		zap.String("order_id", got.ID),
		zap.String("customer_id", in.CustomerID),
		zap.String("amount", in.Amount.StringFixed(2)))

	if s.events != nil {
		event := &models.InvoiceOrderCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeInvoiceOrderCreated,
				Timestamp: time.Now(),
			},
			OrderID:    got.ID,
			CustomerID: got.CustomerID,
			Amount:     got.Amount,
			Currency:   got.Currency,
		}
		if err := s.events.PublishInvoiceOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish InvoiceOrderCreated event", zap.Error(err))
		}
	}

	return got, true, nil
}

// GetOrder retrieves one order, or nil when none exists.
func (s *InvoiceService) GetOrder(ctx context.Context, id string) (*models.InvoiceOrder, error) {
	return s.store.GetInvoiceOrderByID(ctx, id)
}
