package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoicing-service/internal/fingerprint"
	"invoicing-service/internal/models"
	"invoicing-service/internal/store"
	"invoicing-service/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IngestionStore is the slice of the document store the ingestion
// pipeline needs. Narrow on purpose so tests can run an in-memory fake.
type IngestionStore interface {
	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	GetPaymentByID(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByProvider(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	CreatePayment(ctx context.Context, p *models.Payment) (bool, error)
	FindApprovedByFingerprint(ctx context.Context, fp string) ([]models.Payment, error)
	MarkPaymentsSuspected(ctx context.Context, ids []string, caseID string) error
	GetOpenCaseByFingerprint(ctx context.Context, fp string) (*models.DuplicateCase, error)
	CreateCase(ctx context.Context, c *models.DuplicateCase) error
	AppendPaymentToCase(ctx context.Context, caseID, paymentID string) error
}

// ReplayGuard is an optional fast path for webhook-replay detection: a
// hit resolves the provider transaction straight to its payment id. A
// miss or a stale entry falls through to the store's identity key,
// which is the authoritative check.
type ReplayGuard interface {
	ReplayedPaymentID(ctx context.Context, provider, providerPaymentID string) (string, error)
	RememberProviderPayment(ctx context.Context, provider, providerPaymentID, paymentID string, ttl time.Duration) error
}

// EventSink receives domain events. Failures are logged, never fatal.
type EventSink interface {
	PublishPaymentIngested(ctx context.Context, event *models.PaymentIngestedEvent) error
	PublishDuplicateCaseOpened(ctx context.Context, event *models.DuplicateCaseOpenedEvent) error
}

const (
	replayMemory = 72 * time.Hour

	defaultWindowMinutes = 30
)

// IngestionService is the entry point for all incoming payment events.
type IngestionService struct {
	store         IngestionStore
	replay        ReplayGuard
	events        EventSink
	windowMinutes int
	logger        *zap.Logger
}

// NewIngestionService creates a new ingestion service. replay and
// events may be nil. A non-positive window falls back to the default;
// the fingerprint bucket divides by it.
func NewIngestionService(store IngestionStore, replay ReplayGuard, events EventSink, windowMinutes int) *IngestionService {
	if windowMinutes <= 0 {
		windowMinutes = defaultWindowMinutes
	}
	return &IngestionService{
		store:         store,
		replay:        replay,
		events:        events,
		windowMinutes: windowMinutes,
		logger:        util.GetLogger(),
	}
}

// IngestInput is one incoming payment event.
type IngestInput struct {
	CustomerID        string          `json:"customer_id" binding:"required"`
	SchoolID          string          `json:"school_id" binding:"required"`
	Period            string          `json:"period"`
	Amount            decimal.Decimal `json:"amount" binding:"required"`
	Currency          string          `json:"currency" binding:"required"`
	Provider          string          `json:"provider" binding:"required"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	PaidAt            time.Time       `json:"paid_at" binding:"required"`
	Method            string          `json:"method" binding:"required"`
	Reference         string          `json:"reference"`
}

// IngestResult reports what ingestion did with the event.
type IngestResult struct {
	Payment            *models.Payment `json:"payment"`
	Created            bool            `json:"created"`
	TechnicalDuplicate bool            `json:"is_duplicate_technical"`
	DuplicateCaseID    string          `json:"duplicate_case_id,omitempty"`
}

// Ingest runs the dedupe pipeline. The step order is load-bearing:
// technical dedupe, referential check, fingerprint, similarity search,
// persist, case aggregation.
func (s *IngestionService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	ctx, span := util.StartSpan(ctx, "IngestionService.Ingest")
	defer span.End()

	// 1. Technical dedupe: the same provider transaction is never
	// processed twice, protecting against webhook replay.
	if in.ProviderPaymentID != "" {
		if existing, err := s.findReplayed(ctx, in); err != nil {
			return nil, err
		} else if existing != nil {
			util.PaymentsReplayedTotal.Inc()
			s.logger.Info("Webhook replay detected",
				zap.String("provider", in.Provider),
				zap.String("provider_payment_id", in.ProviderPaymentID))
			return &IngestResult{
				Payment:            existing,
				Created:            false,
				TechnicalDuplicate: true,
				DuplicateCaseID:    existing.DuplicateCaseID,
			}, nil
		}
	}

	// 2. Referential check.
	customer, err := s.store.GetCustomerByID(ctx, in.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	if customer == nil || customer.Archived || customer.SchoolID != in.SchoolID {
		return nil, ErrUnknownCustomer
	}

	// 3. Fingerprint.
	hash := fingerprint.Compute(fingerprint.Input{
		CustomerID:    in.CustomerID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		PaidAt:        in.PaidAt,
		Method:        in.Method,
		Reference:     in.Reference,
		WindowMinutes: s.windowMinutes,
	})

	// 4. Economic similarity: same fingerprint, then a symmetric
	// window check that catches pairs straddling a bucket boundary.
	candidates, err := s.store.FindApprovedByFingerprint(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar payments: %w", err)
	}
	window := time.Duration(s.windowMinutes) * time.Minute
	similar := make([]models.Payment, 0, len(candidates))
	for _, c := range candidates {
		diff := in.PaidAt.Sub(c.PaidAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			similar = append(similar, c)
		}
	}

	// 5. Persist.
	payment := &models.Payment{
		ID:                uuid.New().String(),
		CustomerID:        in.CustomerID,
		SchoolID:          in.SchoolID,
		Period:            in.Period,
		Amount:            in.Amount,
		Currency:          in.Currency,
		Provider:          in.Provider,
		ProviderPaymentID: in.ProviderPaymentID,
		Status:            models.PaymentStatusApproved,
		PaidAt:            in.PaidAt,
		Method:            in.Method,
		Reference:         in.Reference,
		FingerprintHash:   hash,
		DuplicateStatus:   models.DuplicateStatusNone,
	}
	if len(similar) > 0 {
		payment.DuplicateStatus = models.DuplicateStatusSuspected
	}

	created, err := s.store.CreatePayment(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if !created {
		// A concurrent ingestion won the identity-key race.
		existing, err := s.store.GetPaymentByProvider(ctx, in.Provider, in.ProviderPaymentID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("payment insert conflicted but no row found for %s/%s", in.Provider, in.ProviderPaymentID)
		}
		util.PaymentsReplayedTotal.Inc()
		return &IngestResult{
			Payment:            existing,
			TechnicalDuplicate: true,
			DuplicateCaseID:    existing.DuplicateCaseID,
		}, nil
	}

	if s.replay != nil && in.ProviderPaymentID != "" {
		if err := s.replay.RememberProviderPayment(ctx, in.Provider, in.ProviderPaymentID, payment.ID, replayMemory); err != nil {
			s.logger.Warn("Failed to record replay key", zap.Error(err))
		}
	}

	util.PaymentsIngestedTotal.Inc()

	// 6. Duplicate case aggregation.
	caseID := ""
	if len(similar) > 0 {
		caseID, err = s.aggregateCase(ctx, payment, similar)
		if err != nil {
			return nil, err
		}
		payment.DuplicateCaseID = caseID
	}

	if s.events != nil {
		event := &models.PaymentIngestedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentIngested,
				Timestamp: time.Now(),
			},
			PaymentID:       payment.ID,
			CustomerID:      payment.CustomerID,
			Amount:          payment.Amount,
			Currency:        payment.Currency,
			DuplicateStatus: payment.DuplicateStatus,
		}
		if err := s.events.PublishPaymentIngested(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentIngested event", zap.Error(err))
		}
	}

	return &IngestResult{
		Payment:         payment,
		Created:         true,
		DuplicateCaseID: caseID,
	}, nil
}

func (s *IngestionService) findReplayed(ctx context.Context, in IngestInput) (*models.Payment, error) {
	if s.replay != nil {
		id, err := s.replay.ReplayedPaymentID(ctx, in.Provider, in.ProviderPaymentID)
		if err != nil {
			s.logger.Warn("Replay fast path unavailable", zap.Error(err))
		} else if id != "" {
			payment, err := s.store.GetPaymentByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if payment != nil {
				return payment, nil
			}
			// Stale cache entry; the identity index decides below.
		}
	}
	return s.store.GetPaymentByProvider(ctx, in.Provider, in.ProviderPaymentID)
}

// aggregateCase appends the payment to the open case for its
// fingerprint, or opens a new one listing all similar payments plus
// the new one. Every payment in the case is marked suspected.
func (s *IngestionService) aggregateCase(ctx context.Context, payment *models.Payment, similar []models.Payment) (string, error) {
	similarIDs := make([]string, len(similar))
	for i, p := range similar {
		similarIDs[i] = p.ID
	}

	open, err := s.store.GetOpenCaseByFingerprint(ctx, payment.FingerprintHash)
	if err != nil {
		return "", fmt.Errorf("failed to look up open case: %w", err)
	}

	if open != nil {
		err := s.store.AppendPaymentToCase(ctx, open.ID, payment.ID)
		switch {
		case err == nil:
			if err := s.store.MarkPaymentsSuspected(ctx, append(similarIDs, payment.ID), open.ID); err != nil {
				return "", err
			}
			s.logger.Info("Appended payment to open duplicate case",
				zap.String("case_id", open.ID),
				zap.String("payment_id", payment.ID))
			return open.ID, nil
		case errors.Is(err, store.ErrCaseNotOpen):
			// Resolved between lookup and append; the fingerprint has no
			// open case anymore, so a fresh one is opened below.
			s.logger.Info("Duplicate case closed mid-ingest, opening a new one",
				zap.String("case_id", open.ID))
		default:
			return "", fmt.Errorf("failed to append payment to case %s: %w", open.ID, err)
		}
	}

	dc := &models.DuplicateCase{
		ID:              uuid.New().String(),
		SchoolID:        payment.SchoolID,
		CustomerID:      payment.CustomerID,
		FingerprintHash: payment.FingerprintHash,
		WindowMinutes:   s.windowMinutes,
		PaymentIDs:      pq.StringArray(append(similarIDs, payment.ID)),
		Status:          models.CaseStatusOpen,
	}
	if err := s.store.CreateCase(ctx, dc); err != nil {
		return "", fmt.Errorf("failed to open duplicate case: %w", err)
	}
	if err := s.store.MarkPaymentsSuspected(ctx, dc.PaymentIDs, dc.ID); err != nil {
		return "", err
	}

	util.DuplicateCasesOpenedTotal.Inc()
	s.logger.Warn("Opened duplicate case",
		zap.String("case_id", dc.ID),
		zap.String("customer_id", payment.CustomerID),
		zap.Int("payments", len(dc.PaymentIDs)))

	if s.events != nil {
		event := &models.DuplicateCaseOpenedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeDuplicateCaseOpened,
				Timestamp: time.Now(),
			},
			CaseID:     dc.ID,
			CustomerID: dc.CustomerID,
			PaymentIDs: dc.PaymentIDs,
		}
		if err := s.events.PublishDuplicateCaseOpened(ctx, event); err != nil {
			s.logger.Error("Failed to publish DuplicateCaseOpened event", zap.Error(err))
		}
	}

	return dc.ID, nil
}
