package store

import (
	"context"
	"database/sql"
	"fmt"

	"invoicing-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GetOrCreateInvoiceOrder creates an order under its content-hash
// identity, or returns the existing one unchanged. The insert-or-nothing
// plus read is atomic at the store level, closing the race between two
// concurrent callers with the same key.
func (s *Store) GetOrCreateInvoiceOrder(ctx context.Context, o *models.InvoiceOrder) (*models.InvoiceOrder, bool, error) {
	res, err := s.db.ExecContext(ctx, insertOrderQuery,
		o.ID, o.CustomerID, o.Concept, o.PeriodKey, o.Amount, o.Currency,
		o.PaymentIDs, o.Status)
	if err != nil {
		return nil, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	existing, err := s.GetInvoiceOrderByID(ctx, o.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("invoice order %s vanished after insert", o.ID)
	}
	return existing, rows == 1, nil
}

const insertOrderQuery = `
	INSERT INTO invoice_orders (
		id, customer_id, concept, period_key, amount, currency,
		payment_ids, status
	)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (id) DO NOTHING`

// GetInvoiceOrderByID retrieves an order, or nil when none exists.
func (s *Store) GetInvoiceOrderByID(ctx context.Context, id string) (*models.InvoiceOrder, error) {
	var order models.InvoiceOrder
	err := s.db.GetContext(ctx, &order, "SELECT * FROM invoice_orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListPendingOrders returns pending orders oldest first, capped.
func (s *Store) ListPendingOrders(ctx context.Context, limit int) ([]models.InvoiceOrder, error) {
	var orders []models.InvoiceOrder
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM invoice_orders WHERE status = $1 ORDER BY created_at LIMIT $2",
		models.OrderStatusPending, limit)
	return orders, err
}

// TransitionOrder moves an order between statuses, rejecting illegal
// moves and concurrent interleavings.
func (s *Store) TransitionOrder(ctx context.Context, id, from, to string) error {
	if !models.ValidOrderTransition(from, to) {
		return &models.ErrIllegalTransition{From: from, To: to}
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE invoice_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStaleOrderStatus
	}
	return nil
}

// SetOrderIssued stores the authorization block and advances to issued.
func (s *Store) SetOrderIssued(ctx context.Context, id string, voucherNumber int64, cae, caeExpiry string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_orders
		 SET status = $1, voucher_number = $2, cae = $3, cae_expiry = $4, updated_at = NOW()
		 WHERE id = $5 AND status = $6`,
		models.OrderStatusIssued, voucherNumber, cae, caeExpiry, id, models.OrderStatusIssuing)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// SetOrderPDF records the rendered document and advances to pdf_ready.
func (s *Store) SetOrderPDF(ctx context.Context, id, pdfPath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_orders
		 SET status = $1, pdf_path = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		models.OrderStatusPDFReady, pdfPath, id, models.OrderStatusIssued)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// SetOrderEmailed records delivery and advances to email_sent.
func (s *Store) SetOrderEmailed(ctx context.Context, id, email string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoice_orders
		 SET status = $1, email_sent_to = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		models.OrderStatusEmailSent, email, id, models.OrderStatusPDFReady)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// RecordOrderFailure increments the retry counter and either re-enters
// pending or, past the ceiling (or on a terminal failure), parks the
// order in failed with its reason retained for operator inspection.
func (s *Store) RecordOrderFailure(ctx context.Context, id, reason string, maxRetries int, terminal bool) (bool, error) {
	var status string
	err := s.db.GetContext(ctx, &status,
		`UPDATE invoice_orders
		 SET retry_count = retry_count + 1,
		     failure_reason = $2,
		     status = CASE WHEN $4 OR retry_count + 1 > $3 THEN 'failed' ELSE 'pending' END,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING status`,
		id, reason, maxRetries, terminal)
	if err != nil {
		return false, err
	}
	return status == models.OrderStatusFailed, nil
}

// CreateCredit inserts a customer credit.
func (s *Store) CreateCredit(ctx context.Context, c *models.CustomerCredit) error {
	return createCredit(ctx, s.db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func createCredit(ctx context.Context, e execer, c *models.CustomerCredit) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO customer_credits (
			id, customer_id, amount, currency, source_payment_ids, source_case_id
		)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.CustomerID, c.Amount, c.Currency, c.SourcePaymentIDs, c.SourceCaseID)
	return err
}

// CaseResolutionWrite is the batched multi-document update applied when
// a duplicate case is resolved. It commits all-or-nothing.
type CaseResolutionWrite struct {
	CaseID       string
	CaseStatus   string
	Resolution   string
	ConfirmedIDs []string
	IgnoredIDs   []string
	RefundedIDs  []string
	Order        *models.InvoiceOrder
	Credit       *models.CustomerCredit
}

// ApplyCaseResolution atomically closes a case, updates the duplicate
// tracking on its payments, and creates the resulting invoice order
// and/or credit. Fails with ErrCaseNotOpen when the case was resolved
// concurrently, leaving no partial mutation behind.
func (s *Store) ApplyCaseResolution(ctx context.Context, w CaseResolutionWrite) (*models.InvoiceOrder, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE duplicate_cases
		 SET status = $1, resolution = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		w.CaseStatus, w.Resolution, w.CaseID, models.CaseStatusOpen)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrCaseNotOpen
	}

	if err := setDuplicateStatusTx(ctx, tx, w.ConfirmedIDs, models.DuplicateStatusConfirmed); err != nil {
		return nil, err
	}
	if err := setDuplicateStatusTx(ctx, tx, w.IgnoredIDs, models.DuplicateStatusIgnored); err != nil {
		return nil, err
	}

	if len(w.RefundedIDs) > 0 {
		_, err := tx.ExecContext(ctx,
			`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = ANY($2)`,
			models.PaymentStatusRefunded, pq.Array(w.RefundedIDs))
		if err != nil {
			return nil, err
		}
	}

	var order *models.InvoiceOrder
	if w.Order != nil {
		o := w.Order
		if _, err := tx.ExecContext(ctx, insertOrderQuery,
			o.ID, o.CustomerID, o.Concept, o.PeriodKey, o.Amount, o.Currency,
			o.PaymentIDs, o.Status); err != nil {
			return nil, err
		}
		var got models.InvoiceOrder
		if err := tx.GetContext(ctx, &got, "SELECT * FROM invoice_orders WHERE id = $1", o.ID); err != nil {
			return nil, err
		}
		order = &got
	}

	if w.Credit != nil {
		if err := createCredit(ctx, tx, w.Credit); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func setDuplicateStatusTx(ctx context.Context, tx *sqlx.Tx, ids []string, status string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE payments SET duplicate_status = $1, updated_at = NOW() WHERE id = ANY($2)`,
		status, pq.Array(ids))
	return err
}
