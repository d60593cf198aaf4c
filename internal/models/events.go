package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentIngested       = "PAYMENT_INGESTED"
	EventTypeDuplicateCaseOpened   = "DUPLICATE_CASE_OPENED"
	EventTypeDuplicateCaseResolved = "DUPLICATE_CASE_RESOLVED"
	EventTypeInvoiceOrderCreated   = "INVOICE_ORDER_CREATED"
	EventTypeInvoiceIssued         = "INVOICE_ISSUED"
	EventTypeInvoiceFailed         = "INVOICE_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentIngestedEvent published when a payment clears ingestion
type PaymentIngestedEvent struct {
	BaseEvent
	PaymentID       string          `json:"payment_id"`
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	DuplicateStatus string          `json:"duplicate_status"`
}

// DuplicateCaseOpenedEvent published when probable duplicates are detected
type DuplicateCaseOpenedEvent struct {
	BaseEvent
	CaseID     string   `json:"case_id"`
	CustomerID string   `json:"customer_id"`
	PaymentIDs []string `json:"payment_ids"`
}

// DuplicateCaseResolvedEvent published when an operator closes a case
type DuplicateCaseResolvedEvent struct {
	BaseEvent
	CaseID     string `json:"case_id"`
	Resolution string `json:"resolution"`
}

// InvoiceOrderCreatedEvent published when a new invoice order enters the queue
type InvoiceOrderCreatedEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// InvoiceIssuedEvent published when the authority grants a CAE
type InvoiceIssuedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	VoucherNumber int64  `json:"voucher_number"`
	CAE           string `json:"cae"`
}

// InvoiceFailedEvent published when an order parks in failed
type InvoiceFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
