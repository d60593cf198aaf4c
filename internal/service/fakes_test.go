package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"invoicing-service/internal/models"
	"invoicing-service/internal/store"
)

// fakeStore is an in-memory stand-in for the postgres store, shared by
// the ingestion, resolver and invoice service tests.
type fakeStore struct {
	mu        sync.Mutex
	customers map[string]*models.Customer
	payments  map[string]*models.Payment
	cases     map[string]*models.DuplicateCase
	orders    map[string]*models.InvoiceOrder
	credits   map[string]*models.CustomerCredit

	providerLookups int
	// closeOnAppend simulates a case being resolved between the open-case
	// lookup and the append.
	closeOnAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		customers: make(map[string]*models.Customer),
		payments:  make(map[string]*models.Payment),
		cases:     make(map[string]*models.DuplicateCase),
		orders:    make(map[string]*models.InvoiceOrder),
		credits:   make(map[string]*models.CustomerCredit),
	}
}

func (f *fakeStore) GetCustomerByID(_ context.Context, id string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetPaymentByProvider(_ context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providerLookups++
	if providerPaymentID == "" {
		return nil, nil
	}
	for _, p := range f.payments {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreatePayment(_ context.Context, p *models.Payment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ProviderPaymentID != "" {
		for _, existing := range f.payments {
			if existing.Provider == p.Provider && existing.ProviderPaymentID == p.ProviderPaymentID {
				return false, nil
			}
		}
	}
	cp := *p
	cp.CreatedAt = time.Now()
	f.payments[p.ID] = &cp
	return true, nil
}

func (f *fakeStore) GetPaymentByID(_ context.Context, id string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetPaymentsByIDs(_ context.Context, ids []string) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Payment, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.payments[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) FindApprovedByFingerprint(_ context.Context, fp string) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.FingerprintHash == fp && p.Status == models.PaymentStatusApproved {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPaymentsSuspected(_ context.Context, ids []string, caseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if p, ok := f.payments[id]; ok {
			p.DuplicateStatus = models.DuplicateStatusSuspected
			p.DuplicateCaseID = caseID
		}
	}
	return nil
}

func (f *fakeStore) GetOpenCaseByFingerprint(_ context.Context, fp string) (*models.DuplicateCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dc := range f.cases {
		if dc.FingerprintHash == fp && dc.Status == models.CaseStatusOpen {
			cp := *dc
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateCase(_ context.Context, c *models.DuplicateCase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	cp.CreatedAt = time.Now()
	f.cases[c.ID] = &cp
	return nil
}

func (f *fakeStore) AppendPaymentToCase(_ context.Context, caseID, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dc, ok := f.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s not found", caseID)
	}
	if f.closeOnAppend {
		dc.Status = models.CaseStatusResolved
	}
	if dc.Status != models.CaseStatusOpen {
		return store.ErrCaseNotOpen
	}
	for _, id := range dc.PaymentIDs {
		if id == paymentID {
			return nil
		}
	}
	dc.PaymentIDs = append(dc.PaymentIDs, paymentID)
	return nil
}

func (f *fakeStore) GetCaseByID(_ context.Context, id string) (*models.DuplicateCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dc, ok := f.cases[id]
	if !ok {
		return nil, nil
	}
	cp := *dc
	return &cp, nil
}

func (f *fakeStore) ApplyCaseResolution(_ context.Context, w store.CaseResolutionWrite) (*models.InvoiceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dc, ok := f.cases[w.CaseID]
	if !ok || dc.Status != models.CaseStatusOpen {
		return nil, store.ErrCaseNotOpen
	}
	dc.Status = w.CaseStatus
	dc.Resolution = w.Resolution

	for _, id := range w.ConfirmedIDs {
		if p, ok := f.payments[id]; ok {
			p.DuplicateStatus = models.DuplicateStatusConfirmed
		}
	}
	for _, id := range w.IgnoredIDs {
		if p, ok := f.payments[id]; ok {
			p.DuplicateStatus = models.DuplicateStatusIgnored
		}
	}
	for _, id := range w.RefundedIDs {
		if p, ok := f.payments[id]; ok {
			p.Status = models.PaymentStatusRefunded
		}
	}

	var order *models.InvoiceOrder
	if w.Order != nil {
		if existing, ok := f.orders[w.Order.ID]; ok {
			cp := *existing
			order = &cp
		} else {
			cp := *w.Order
			cp.CreatedAt = time.Now()
			f.orders[cp.ID] = &cp
			out := cp
			order = &out
		}
	}

	if w.Credit != nil {
		cp := *w.Credit
		f.credits[cp.ID] = &cp
	}

	return order, nil
}

func (f *fakeStore) GetOrCreateInvoiceOrder(_ context.Context, o *models.InvoiceOrder) (*models.InvoiceOrder, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.orders[o.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *o
	cp.CreatedAt = time.Now()
	f.orders[o.ID] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeStore) GetInvoiceOrderByID(_ context.Context, id string) (*models.InvoiceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// fakeReplay is a ReplayGuard backed by a map.
type fakeReplay struct {
	mu   sync.Mutex
	seen map[string]string
}

func newFakeReplay() *fakeReplay {
	return &fakeReplay{seen: make(map[string]string)}
}

func (f *fakeReplay) ReplayedPaymentID(_ context.Context, provider, providerPaymentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[provider+":"+providerPaymentID], nil
}

func (f *fakeReplay) RememberProviderPayment(_ context.Context, provider, providerPaymentID, paymentID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[provider+":"+providerPaymentID] = paymentID
	return nil
}

// fakeEvents records every published event type.
type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) record(eventType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeEvents) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (f *fakeEvents) PublishPaymentIngested(_ context.Context, e *models.PaymentIngestedEvent) error {
	f.record(e.EventType)
	return nil
}

func (f *fakeEvents) PublishDuplicateCaseOpened(_ context.Context, e *models.DuplicateCaseOpenedEvent) error {
	f.record(e.EventType)
	return nil
}

func (f *fakeEvents) PublishDuplicateCaseResolved(_ context.Context, e *models.DuplicateCaseResolvedEvent) error {
	f.record(e.EventType)
	return nil
}

func (f *fakeEvents) PublishInvoiceOrderCreated(_ context.Context, e *models.InvoiceOrderCreatedEvent) error {
	f.record(e.EventType)
	return nil
}
