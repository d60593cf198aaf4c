package store

import (
	"context"
	"database/sql"

	"invoicing-service/internal/models"

	"github.com/lib/pq"
)

// CreatePayment inserts a new payment. When a provider payment id is
// present, (provider, provider_payment_id) acts as a document identity
// key: a concurrent duplicate insert is rejected by the unique index
// rather than by application logic. Returns false when the row already
// existed.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (
			id, customer_id, school_id, period, amount, currency,
			provider, provider_payment_id, status, paid_at, method,
			reference, fingerprint_hash, duplicate_status, duplicate_case_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (provider, provider_payment_id)
			WHERE provider_payment_id <> ''
			DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		p.ID, p.CustomerID, p.SchoolID, p.Period, p.Amount, p.Currency,
		p.Provider, p.ProviderPaymentID, p.Status, p.PaidAt, p.Method,
		p.Reference, p.FingerprintHash, p.DuplicateStatus, p.DuplicateCaseID)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByProvider retrieves a payment by its provider transaction
// identity, or nil when none exists.
func (s *Store) GetPaymentByProvider(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE provider = $1 AND provider_payment_id = $2",
		provider, providerPaymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentsByIDs retrieves multiple payments by id.
func (s *Store) GetPaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error) {
	if len(ids) == 0 {
		return []models.Payment{}, nil
	}

	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE id = ANY($1) ORDER BY paid_at", pq.Array(ids))
	return payments, err
}

// FindApprovedByFingerprint returns approved payments sharing a
// fingerprint hash, oldest first.
func (s *Store) FindApprovedByFingerprint(ctx context.Context, fingerprint string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE fingerprint_hash = $1 AND status = $2 ORDER BY paid_at",
		fingerprint, models.PaymentStatusApproved)
	return payments, err
}

// MarkPaymentsSuspected flags payments as probable duplicates and links
// them to their case.
func (s *Store) MarkPaymentsSuspected(ctx context.Context, ids []string, caseID string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments
		 SET duplicate_status = $1, duplicate_case_id = $2, updated_at = NOW()
		 WHERE id = ANY($3)`,
		models.DuplicateStatusSuspected, caseID, pq.Array(ids))
	return err
}
