package service

import (
	"context"
	"testing"
	"time"

	"invoicing-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCustomer(st *fakeStore) *models.Customer {
	c := &models.Customer{
		ID:        "cust-1",
		SchoolID:  "school-1",
		Name:      "Maria Gomez",
		Email:     "maria@example.com",
		DocType:   96,
		DocNumber: 30123456,
	}
	st.customers[c.ID] = c
	return c
}

func baseInput() IngestInput {
	return IngestInput{
		CustomerID:        "cust-1",
		SchoolID:          "school-1",
		Period:            "2024-03",
		Amount:            decimal.NewFromFloat(1500.00),
		Currency:          "ARS",
		Provider:          "mercadopago",
		ProviderPaymentID: "mp-001",
		PaidAt:            time.Date(2024, 3, 10, 14, 5, 0, 0, time.UTC),
		Method:            "card",
		Reference:         "Cuota Marzo",
	}
}

func TestIngestCreatesPayment(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	events := &fakeEvents{}
	svc := NewIngestionService(st, newFakeReplay(), events, 30)

	result, err := svc.Ingest(context.Background(), baseInput())
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.False(t, result.TechnicalDuplicate)
	assert.Empty(t, result.DuplicateCaseID)
	assert.Equal(t, models.DuplicateStatusNone, result.Payment.DuplicateStatus)
	assert.NotEmpty(t, result.Payment.FingerprintHash)
	assert.Equal(t, 1, events.count(models.EventTypePaymentIngested))
}

func TestIngestWebhookReplay(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, newFakeReplay(), nil, 30)

	first, err := svc.Ingest(context.Background(), baseInput())
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Ingest(context.Background(), baseInput())
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.True(t, second.TechnicalDuplicate)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Len(t, st.payments, 1)
}

func TestIngestReplayFastPathSkipsProviderIndex(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	replay := newFakeReplay()
	svc := NewIngestionService(st, replay, nil, 30)

	first, err := svc.Ingest(context.Background(), baseInput())
	require.NoError(t, err)
	require.True(t, first.Created)
	assert.Equal(t, first.Payment.ID, replay.seen["mercadopago:mp-001"])

	st.providerLookups = 0
	second, err := svc.Ingest(context.Background(), baseInput())
	require.NoError(t, err)

	// The cached payment id resolves the replay directly; the identity
	// index is never consulted.
	assert.True(t, second.TechnicalDuplicate)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, 0, st.providerLookups)
}

func TestIngestStaleReplayEntryIsNotTrusted(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	replay := newFakeReplay()
	// Cache points at a payment the store has no record of.
	replay.seen["mercadopago:mp-001"] = "ghost"
	svc := NewIngestionService(st, replay, nil, 30)

	result, err := svc.Ingest(context.Background(), baseInput())
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.False(t, result.TechnicalDuplicate)
	assert.Len(t, st.payments, 1)
}

func TestIngestUnknownCustomer(t *testing.T) {
	st := newFakeStore()
	svc := NewIngestionService(st, nil, nil, 30)

	in := baseInput()
	_, err := svc.Ingest(context.Background(), in)
	assert.ErrorIs(t, err, ErrUnknownCustomer)
}

func TestIngestArchivedCustomer(t *testing.T) {
	st := newFakeStore()
	c := seedCustomer(st)
	c.Archived = true
	svc := NewIngestionService(st, nil, nil, 30)

	_, err := svc.Ingest(context.Background(), baseInput())
	assert.ErrorIs(t, err, ErrUnknownCustomer)
}

func TestIngestSchoolMismatch(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 30)

	in := baseInput()
	in.SchoolID = "school-2"
	_, err := svc.Ingest(context.Background(), in)
	assert.ErrorIs(t, err, ErrUnknownCustomer)
}

func TestIngestOpensDuplicateCase(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	events := &fakeEvents{}
	svc := NewIngestionService(st, nil, events, 30)

	first := baseInput()
	_, err := svc.Ingest(context.Background(), first)
	require.NoError(t, err)

	// Same customer, amount and reference a minute later from a
	// different provider transaction: an economic duplicate.
	second := baseInput()
	second.ProviderPaymentID = "mp-002"
	second.PaidAt = first.PaidAt.Add(time.Minute)
	result, err := svc.Ingest(context.Background(), second)
	require.NoError(t, err)

	require.NotEmpty(t, result.DuplicateCaseID)
	dc := st.cases[result.DuplicateCaseID]
	require.NotNil(t, dc)
	assert.Equal(t, models.CaseStatusOpen, dc.Status)
	assert.Len(t, dc.PaymentIDs, 2)
	assert.Equal(t, 1, events.count(models.EventTypeDuplicateCaseOpened))

	for _, id := range dc.PaymentIDs {
		assert.Equal(t, models.DuplicateStatusSuspected, st.payments[id].DuplicateStatus)
	}
}

func TestIngestThirdPaymentJoinsOpenCase(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	events := &fakeEvents{}
	svc := NewIngestionService(st, nil, events, 30)

	base := baseInput()
	for i, pid := range []string{"mp-001", "mp-002", "mp-003"} {
		in := base
		in.ProviderPaymentID = pid
		in.PaidAt = base.PaidAt.Add(time.Duration(i) * time.Minute)
		_, err := svc.Ingest(context.Background(), in)
		require.NoError(t, err)
	}

	require.Len(t, st.cases, 1)
	for _, dc := range st.cases {
		assert.Len(t, dc.PaymentIDs, 3)
	}
	// One case opened, never a second.
	assert.Equal(t, 1, events.count(models.EventTypeDuplicateCaseOpened))
}

func TestIngestCosmeticReferenceStillMatches(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 30)

	first := baseInput()
	_, err := svc.Ingest(context.Background(), first)
	require.NoError(t, err)

	second := baseInput()
	second.ProviderPaymentID = "mp-002"
	second.Reference = "  cuota   MARZO "
	second.PaidAt = first.PaidAt.Add(2 * time.Minute)
	result, err := svc.Ingest(context.Background(), second)
	require.NoError(t, err)

	assert.NotEmpty(t, result.DuplicateCaseID)
}

func TestIngestDifferentAmountIsNotDuplicate(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 30)

	first := baseInput()
	_, err := svc.Ingest(context.Background(), first)
	require.NoError(t, err)

	second := baseInput()
	second.ProviderPaymentID = "mp-002"
	second.Amount = decimal.NewFromFloat(1500.01)
	result, err := svc.Ingest(context.Background(), second)
	require.NoError(t, err)

	assert.Empty(t, result.DuplicateCaseID)
	assert.Equal(t, models.DuplicateStatusNone, result.Payment.DuplicateStatus)
	assert.Empty(t, st.cases)
}

func TestIngestOutsideWindowIsNotDuplicate(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 30)

	first := baseInput()
	_, err := svc.Ingest(context.Background(), first)
	require.NoError(t, err)

	second := baseInput()
	second.ProviderPaymentID = "mp-002"
	second.PaidAt = first.PaidAt.Add(2 * time.Hour)
	result, err := svc.Ingest(context.Background(), second)
	require.NoError(t, err)

	assert.Empty(t, result.DuplicateCaseID)
	assert.Empty(t, st.cases)
}

func TestIngestZeroWindowFallsBackToDefault(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 0)

	first := baseInput()
	_, err := svc.Ingest(context.Background(), first)
	require.NoError(t, err)

	second := baseInput()
	second.ProviderPaymentID = "mp-002"
	second.PaidAt = first.PaidAt.Add(time.Minute)
	result, err := svc.Ingest(context.Background(), second)
	require.NoError(t, err)

	// Detection still runs on the default 30 minute window.
	assert.NotEmpty(t, result.DuplicateCaseID)
}

func TestIngestCaseClosedMidIngestOpensNewCase(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 30)

	base := baseInput()
	_, err := svc.Ingest(context.Background(), base)
	require.NoError(t, err)

	second := base
	second.ProviderPaymentID = "mp-002"
	second.PaidAt = base.PaidAt.Add(time.Minute)
	opened, err := svc.Ingest(context.Background(), second)
	require.NoError(t, err)
	require.NotEmpty(t, opened.DuplicateCaseID)

	// The open case gets resolved between the lookup and the append.
	st.closeOnAppend = true

	third := base
	third.ProviderPaymentID = "mp-003"
	third.PaidAt = base.PaidAt.Add(2 * time.Minute)
	result, err := svc.Ingest(context.Background(), third)
	require.NoError(t, err)

	require.NotEmpty(t, result.DuplicateCaseID)
	assert.NotEqual(t, opened.DuplicateCaseID, result.DuplicateCaseID)

	fresh := st.cases[result.DuplicateCaseID]
	require.NotNil(t, fresh)
	assert.Equal(t, models.CaseStatusOpen, fresh.Status)
	assert.Len(t, fresh.PaymentIDs, 3)
}

func TestIngestWithoutProviderPaymentID(t *testing.T) {
	st := newFakeStore()
	seedCustomer(st)
	svc := NewIngestionService(st, nil, nil, 30)

	// Cash payments carry no provider transaction id; two of them are
	// still distinct rows, only the economic layer links them.
	in := baseInput()
	in.Provider = "cash"
	in.ProviderPaymentID = ""

	first, err := svc.Ingest(context.Background(), in)
	require.NoError(t, err)
	require.True(t, first.Created)

	in.PaidAt = in.PaidAt.Add(time.Minute)
	second, err := svc.Ingest(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.Created)
	assert.False(t, second.TechnicalDuplicate)
	assert.NotEmpty(t, second.DuplicateCaseID)
	assert.Len(t, st.payments, 2)
}
