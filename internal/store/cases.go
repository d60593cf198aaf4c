package store

import (
	"context"
	"database/sql"

	"invoicing-service/internal/models"

	"github.com/lib/pq"
)

// CreateCase inserts a new duplicate case.
func (s *Store) CreateCase(ctx context.Context, c *models.DuplicateCase) error {
	query := `
		INSERT INTO duplicate_cases (
			id, school_id, customer_id, fingerprint_hash, window_minutes,
			payment_ids, status, resolution
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, c, query,
		c.ID, c.SchoolID, c.CustomerID, c.FingerprintHash, c.WindowMinutes,
		c.PaymentIDs, c.Status, c.Resolution)
}

// GetCaseByID retrieves a duplicate case by ID
func (s *Store) GetCaseByID(ctx context.Context, id string) (*models.DuplicateCase, error) {
	var dc models.DuplicateCase
	err := s.db.GetContext(ctx, &dc, "SELECT * FROM duplicate_cases WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

// GetOpenCaseByFingerprint returns the single open case for a
// fingerprint, or nil. At most one case is open per fingerprint.
func (s *Store) GetOpenCaseByFingerprint(ctx context.Context, fingerprint string) (*models.DuplicateCase, error) {
	var dc models.DuplicateCase
	err := s.db.GetContext(ctx, &dc,
		"SELECT * FROM duplicate_cases WHERE fingerprint_hash = $1 AND status = $2",
		fingerprint, models.CaseStatusOpen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

// AppendPaymentToCase atomically adds a payment to an open case. The
// conditional write (status must still be open, id not yet present)
// prevents lost updates when two ingestions race on the same case.
func (s *Store) AppendPaymentToCase(ctx context.Context, caseID, paymentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE duplicate_cases
		 SET payment_ids = array_append(payment_ids, $1), updated_at = NOW()
		 WHERE id = $2 AND status = $3 AND NOT (payment_ids @> $4)`,
		paymentID, caseID, models.CaseStatusOpen, pq.Array([]string{paymentID}))
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either closed concurrently or the payment is already listed;
		// distinguish so callers can react to the closed case.
		dc, err := s.GetCaseByID(ctx, caseID)
		if err != nil {
			return err
		}
		if dc == nil || dc.Status != models.CaseStatusOpen {
			return ErrCaseNotOpen
		}
	}
	return nil
}
