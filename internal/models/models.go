package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Customer is the billable party for payments and invoice orders.
type Customer struct {
	ID        string    `db:"id" json:"id"`
	SchoolID  string    `db:"school_id" json:"school_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email,omitempty"`
	DocType   int       `db:"doc_type" json:"doc_type"`
	DocNumber int64     `db:"doc_number" json:"doc_number"`
	Archived  bool      `db:"archived" json:"archived"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payment represents one recorded money movement.
// Once approved it is immutable except for the duplicate-tracking fields
// and a transition to refunded.
type Payment struct {
	ID                string          `db:"id" json:"id"`
	CustomerID        string          `db:"customer_id" json:"customer_id"`
	SchoolID          string          `db:"school_id" json:"school_id"`
	Period            string          `db:"period" json:"period"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	Provider          string          `db:"provider" json:"provider"`
	ProviderPaymentID string          `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	Status            string          `db:"status" json:"status"`
	PaidAt            time.Time       `db:"paid_at" json:"paid_at"`
	Method            string          `db:"method" json:"method"`
	Reference         string          `db:"reference" json:"reference,omitempty"`
	FingerprintHash   string          `db:"fingerprint_hash" json:"fingerprint_hash"`
	DuplicateStatus   string          `db:"duplicate_status" json:"duplicate_status"`
	DuplicateCaseID   string          `db:"duplicate_case_id" json:"duplicate_case_id,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment statuses
const (
	PaymentStatusApproved = "approved"
	PaymentStatusRefunded = "refunded"
)

// Duplicate-tracking statuses
const (
	DuplicateStatusNone      = "none"
	DuplicateStatusSuspected = "suspected"
	DuplicateStatusConfirmed = "confirmed"
	DuplicateStatusIgnored   = "ignored"
)

// DuplicateCase aggregates all payments discovered so far for one
// fingerprint. At most one case is open per fingerprint; new matches
// append to PaymentIDs. Terminal once resolved or dismissed.
type DuplicateCase struct {
	ID              string         `db:"id" json:"id"`
	SchoolID        string         `db:"school_id" json:"school_id"`
	CustomerID      string         `db:"customer_id" json:"customer_id"`
	FingerprintHash string         `db:"fingerprint_hash" json:"fingerprint_hash"`
	WindowMinutes   int            `db:"window_minutes" json:"window_minutes"`
	PaymentIDs      pq.StringArray `db:"payment_ids" json:"payment_ids"`
	Status          string         `db:"status" json:"status"`
	Resolution      string         `db:"resolution" json:"resolution,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Duplicate case statuses
const (
	CaseStatusOpen      = "open"
	CaseStatusResolved  = "resolved"
	CaseStatusDismissed = "dismissed"
)

// Resolutions
const (
	ResolutionInvoiceOneCreditRest = "invoice_one_credit_rest"
	ResolutionInvoiceAll           = "invoice_all"
	ResolutionRefundOne            = "refund_one"
	ResolutionIgnoreDuplicates     = "ignore_duplicates"
)

// InvoiceOrder is an order to issue one fiscal voucher. Its ID is the
// content hash of (customer, concept, period, amount, currency), which
// makes creation idempotent: the same economic event can never produce
// two orders.
type InvoiceOrder struct {
	ID            string          `db:"id" json:"id"`
	CustomerID    string          `db:"customer_id" json:"customer_id"`
	Concept       string          `db:"concept" json:"concept"`
	PeriodKey     string          `db:"period_key" json:"period_key,omitempty"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	PaymentIDs    pq.StringArray  `db:"payment_ids" json:"payment_ids"`
	Status        string          `db:"status" json:"status"`
	VoucherNumber int64           `db:"voucher_number" json:"voucher_number,omitempty"`
	CAE           string          `db:"cae" json:"cae,omitempty"`
	CAEExpiry     string          `db:"cae_expiry" json:"cae_expiry,omitempty"`
	PDFPath       string          `db:"pdf_path" json:"pdf_path,omitempty"`
	EmailSentTo   string          `db:"email_sent_to" json:"email_sent_to,omitempty"`
	FailureReason string          `db:"failure_reason" json:"failure_reason,omitempty"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Invoice order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusIssuing   = "issuing"
	OrderStatusIssued    = "issued"
	OrderStatusPDFReady  = "pdf_ready"
	OrderStatusEmailSent = "email_sent"
	OrderStatusFailed    = "failed"
)

// orderTransitions is the closed set of legal status moves. An order can
// never skip forward (e.g. pending straight to email_sent); it can fall
// back to pending for a retry from any in-flight step.
var orderTransitions = map[string][]string{
	OrderStatusPending:  {OrderStatusIssuing},
	OrderStatusIssuing:  {OrderStatusIssued, OrderStatusPending, OrderStatusFailed},
	OrderStatusIssued:   {OrderStatusPDFReady, OrderStatusPending, OrderStatusFailed},
	OrderStatusPDFReady: {OrderStatusEmailSent, OrderStatusPending, OrderStatusFailed},
}

// ValidOrderTransition reports whether from -> to is a legal status move.
func ValidOrderTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrIllegalTransition is returned when an order status move is rejected.
type ErrIllegalTransition struct {
	From, To string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal invoice order transition: %s -> %s", e.From, e.To)
}

// CustomerCredit is money owed back to (or held for) a customer,
// created only by an invoice_one_credit_rest resolution.
type CustomerCredit struct {
	ID               string          `db:"id" json:"id"`
	CustomerID       string          `db:"customer_id" json:"customer_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	SourcePaymentIDs pq.StringArray  `db:"source_payment_ids" json:"source_payment_ids"`
	SourceCaseID     string          `db:"source_case_id" json:"source_case_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
