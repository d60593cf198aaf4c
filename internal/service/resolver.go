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

// ResolverStore is the store slice the resolver needs.
type ResolverStore interface {
	GetCaseByID(ctx context.Context, id string) (*models.DuplicateCase, error)
	GetPaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error)
	ApplyCaseResolution(ctx context.Context, w store.CaseResolutionWrite) (*models.InvoiceOrder, error)
}

// ResolutionEventSink receives case-resolution events.
type ResolutionEventSink interface {
	PublishDuplicateCaseResolved(ctx context.Context, event *models.DuplicateCaseResolvedEvent) error
}

// ResolverService applies operator- or rule-driven resolutions to
// duplicate cases. Every resolution is atomic across all payments in
// the case and terminal: a case is never reopened.
type ResolverService struct {
	store  ResolverStore
	events ResolutionEventSink
	logger *zap.Logger
}

// NewResolverService creates a new resolver. events may be nil.
func NewResolverService(st ResolverStore, events ResolutionEventSink) *ResolverService {
	return &ResolverService{
		store:  st,
		events: events,
		logger: util.GetLogger(),
	}
}

// ResolveInput describes one resolution action.
type ResolveInput struct {
	CaseID           string   `json:"-"`
	Resolution       string   `json:"resolution" binding:"required"`
	ChosenPaymentIDs []string `json:"chosen_payment_ids"`
	Concept          string   `json:"concept"`
	PeriodKey        string   `json:"period_key"`
}

// ResolveResult reports the outcome of a resolution.
type ResolveResult struct {
	CaseID     string               `json:"case_id"`
	Status     string               `json:"status"`
	Resolution string               `json:"resolution"`
	Order      *models.InvoiceOrder `json:"invoice_order,omitempty"`
	CreditID   string               `json:"credit_id,omitempty"`
}

// Resolve applies a resolution to an open case.
func (s *ResolverService) Resolve(ctx context.Context, in ResolveInput) (*ResolveResult, error) {
	ctx, span := util.StartSpan(ctx, "ResolverService.Resolve")
	defer span.End()

	dc, err := s.store.GetCaseByID(ctx, in.CaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	if dc == nil {
		return nil, ErrCaseNotFound
	}
	if dc.Status != models.CaseStatusOpen {
		return nil, ErrInvalidCaseState
	}

	payments, err := s.store.GetPaymentsByIDs(ctx, dc.PaymentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load case payments: %w", err)
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: case %s has no loadable payments", ErrInvalidResolution, dc.ID)
	}
	byID := make(map[string]models.Payment, len(payments))
	for _, p := range payments {
		byID[p.ID] = p
	}
	for _, id := range in.ChosenPaymentIDs {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: payment %s is not part of case %s", ErrInvalidResolution, id, dc.ID)
		}
	}

	write, err := s.buildResolution(dc, payments, byID, in)
	if err != nil {
		return nil, err
	}

	order, err := s.store.ApplyCaseResolution(ctx, *write)
	if errors.Is(err, store.ErrCaseNotOpen) {
		return nil, ErrInvalidCaseState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply resolution: %w", err)
	}

	util.DuplicateCasesResolvedTotal.WithLabelValues(in.Resolution).Inc()
	s.logger.Info("Duplicate case resolved",
		zap.String("case_id", dc.ID),
		zap.String("resolution", in.Resolution))

	if s.events != nil {
		event := &models.DuplicateCaseResolvedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeDuplicateCaseResolved,
				Timestamp: time.Now(),
			},
			CaseID:     dc.ID,
			Resolution: in.Resolution,
		}
		if err := s.events.PublishDuplicateCaseResolved(ctx, event); err != nil {
			s.logger.Error("Failed to publish DuplicateCaseResolved event", zap.Error(err))
		}
	}

	result := &ResolveResult{
		CaseID:     dc.ID,
		Resolution: in.Resolution,
		Status:     write.CaseStatus,
		Order:      order,
	}
	if write.Credit != nil {
		result.CreditID = write.Credit.ID
	}
	return result, nil
}

func (s *ResolverService) buildResolution(
	dc *models.DuplicateCase,
	payments []models.Payment,
	byID map[string]models.Payment,
	in ResolveInput,
) (*store.CaseResolutionWrite, error) {
	allIDs := make([]string, len(payments))
	for i, p := range payments {
		allIDs[i] = p.ID
	}

	write := &store.CaseResolutionWrite{
		CaseID:     dc.ID,
		CaseStatus: models.CaseStatusResolved,
		Resolution: in.Resolution,
	}

	switch in.Resolution {
	case models.ResolutionInvoiceOneCreditRest:
		if len(in.ChosenPaymentIDs) == 0 {
			return nil, fmt.Errorf("%w: %s requires chosen payment ids", ErrInvalidResolution, in.Resolution)
		}
		first := byID[in.ChosenPaymentIDs[0]]
		write.ConfirmedIDs = in.ChosenPaymentIDs
		write.IgnoredIDs = subtract(allIDs, in.ChosenPaymentIDs)
		write.Order = s.buildOrder(dc, first.Amount, first.Currency, []string{first.ID}, in)

		rest := in.ChosenPaymentIDs[1:]
		restSum := decimal.Zero
		for _, id := range rest {
			restSum = restSum.Add(byID[id].Amount)
		}
		// Money owed back only when the rest actually adds up to
		// something.
		if restSum.IsPositive() {
			write.Credit = &models.CustomerCredit{
				ID:               uuid.New().String(),
				CustomerID:       dc.CustomerID,
				Amount:           restSum,
				Currency:         first.Currency,
				SourcePaymentIDs: pq.StringArray(rest),
				SourceCaseID:     dc.ID,
			}
		}

	case models.ResolutionInvoiceAll:
		total := decimal.Zero
		for _, p := range payments {
			total = total.Add(p.Amount)
		}
		write.ConfirmedIDs = allIDs
		write.Order = s.buildOrder(dc, total, payments[0].Currency, allIDs, in)

	case models.ResolutionRefundOne:
		if len(in.ChosenPaymentIDs) == 0 {
			return nil, fmt.Errorf("%w: %s requires chosen payment ids", ErrInvalidResolution, in.Resolution)
		}
		write.RefundedIDs = in.ChosenPaymentIDs
		write.IgnoredIDs = allIDs

	case models.ResolutionIgnoreDuplicates:
		write.CaseStatus = models.CaseStatusDismissed
		write.IgnoredIDs = allIDs

	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidResolution, in.Resolution)
	}

	return write, nil
}

func (s *ResolverService) buildOrder(
	dc *models.DuplicateCase,
	amount decimal.Decimal,
	currency string,
	paymentIDs []string,
	in ResolveInput,
) *models.InvoiceOrder {
	concept := in.Concept
	if concept == "" {
		concept = "duplicate-resolution"
	}
	return &models.InvoiceOrder{
		ID:         fingerprint.InvoiceKey(dc.CustomerID, concept, in.PeriodKey, amount, currency),
		CustomerID: dc.CustomerID,
		Concept:    concept,
		PeriodKey:  in.PeriodKey,
		Amount:     amount,
		Currency:   currency,
		PaymentIDs: pq.StringArray(paymentIDs),
		Status:     models.OrderStatusPending,
	}
}

func subtract(all, remove []string) []string {
	removeSet := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		removeSet[id] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, ok := removeSet[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
