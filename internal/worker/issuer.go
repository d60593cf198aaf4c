// Package worker runs the background issuance loop: it drains pending
// invoice orders through the authorize / render / deliver pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"invoicing-service/config"
	"invoicing-service/internal/mailer"
	"invoicing-service/internal/models"
	"invoicing-service/internal/pdf"
	"invoicing-service/internal/store"
	"invoicing-service/internal/util"
	"invoicing-service/internal/wsfe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IssuerStore is the store slice the issuer needs.
type IssuerStore interface {
	ListPendingOrders(ctx context.Context, limit int) ([]models.InvoiceOrder, error)
	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	TransitionOrder(ctx context.Context, id, from, to string) error
	SetOrderIssued(ctx context.Context, id string, voucherNumber int64, cae, caeExpiry string) error
	SetOrderPDF(ctx context.Context, id, pdfPath string) error
	SetOrderEmailed(ctx context.Context, id, email string) error
	RecordOrderFailure(ctx context.Context, id, reason string, maxRetries int, terminal bool) (bool, error)
}

// WireClient authorizes vouchers against the tax authority.
type WireClient interface {
	IssueNextVoucher(ctx context.Context, req wsfe.VoucherRequest) (*wsfe.VoucherResult, error)
}

// Locker serializes issuance across replicas. May be nil when running
// a single instance.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// IssuerEventSink receives issuance lifecycle events.
type IssuerEventSink interface {
	PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
	PublishInvoiceFailed(ctx context.Context, event *models.InvoiceFailedEvent) error
}

const issuanceLockTTL = 2 * time.Minute

// Issuer drives pending orders through issuing, issued, pdf_ready and
// email_sent. One order failing never stops the sweep; transport
// failures re-enter pending with a bounded retry budget, business
// rejections park the order in failed immediately.
type Issuer struct {
	store    IssuerStore
	wire     WireClient
	renderer pdf.Renderer
	mail     mailer.Mailer
	locker   Locker
	events   IssuerEventSink
	afip     config.AfipConfig
	business config.BusinessConfig
	logger   *zap.Logger

	// Serializes voucher numbering inside this process. The redis lock
	// covers other replicas.
	issueMu sync.Mutex
}

// NewIssuer creates the issuance worker. locker, mail and events may
// be nil.
func NewIssuer(
	st IssuerStore,
	wire WireClient,
	renderer pdf.Renderer,
	mail mailer.Mailer,
	locker Locker,
	events IssuerEventSink,
	afip config.AfipConfig,
	business config.BusinessConfig,
) *Issuer {
	return &Issuer{
		store:    st,
		wire:     wire,
		renderer: renderer,
		mail:     mail,
		locker:   locker,
		events:   events,
		afip:     afip,
		business: business,
		logger:   util.GetLogger(),
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (w *Issuer) Run(ctx context.Context) {
	interval := time.Duration(w.business.IssuerIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Issuer worker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Issuer worker stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Issuer sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes one bounded batch of pending orders.
func (w *Issuer) RunOnce(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Issuer.RunOnce")
	defer span.End()

	orders, err := w.store.ListPendingOrders(ctx, w.business.IssuerBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending orders: %w", err)
	}

	for i := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processOrder(ctx, &orders[i]); err != nil {
			w.logger.Error("Order processing failed",
				zap.String("order_id", orders[i].ID),
				zap.Error(err))
		}
	}
	return nil
}

func (w *Issuer) processOrder(ctx context.Context, o *models.InvoiceOrder) error {
	err := w.store.TransitionOrder(ctx, o.ID, models.OrderStatusPending, models.OrderStatusIssuing)
	if errors.Is(err, store.ErrStaleOrderStatus) {
		// Another sweep claimed it.
		return nil
	}
	if err != nil {
		return err
	}
	o.Status = models.OrderStatusIssuing

	customer, err := w.store.GetCustomerByID(ctx, o.CustomerID)
	if err != nil {
		return w.fail(ctx, o, fmt.Sprintf("failed to load customer: %v", err), false)
	}
	if customer == nil {
		return w.fail(ctx, o, "customer no longer exists", true)
	}

	if o.CAE == "" {
		if err := w.authorize(ctx, o, customer); err != nil {
			return err
		}
	} else {
		// Resumed after a post-issuance failure: the CAE is already on
		// record, never ask the authority again.
		if err := w.store.TransitionOrder(ctx, o.ID, models.OrderStatusIssuing, models.OrderStatusIssued); err != nil {
			return err
		}
		o.Status = models.OrderStatusIssued
	}

	if o.PDFPath == "" {
		if err := w.render(ctx, o, customer); err != nil {
			return err
		}
	} else {
		o.Status = models.OrderStatusPDFReady
	}

	return w.deliver(ctx, o, customer)
}

// authorize requests a CAE and records the authorization block.
func (w *Issuer) authorize(ctx context.Context, o *models.InvoiceOrder, customer *models.Customer) error {
	w.issueMu.Lock()
	defer w.issueMu.Unlock()

	lockKey := fmt.Sprintf("issuance:pos:%d", w.afip.SalesPoint)
	if w.locker != nil {
		ok, err := w.locker.AcquireLock(ctx, lockKey, issuanceLockTTL)
		if err != nil {
			return w.fail(ctx, o, fmt.Sprintf("issuance lock unavailable: %v", err), false)
		}
		if !ok {
			// Another replica is numbering vouchers; back off to pending.
			return w.store.TransitionOrder(ctx, o.ID, models.OrderStatusIssuing, models.OrderStatusPending)
		}
		defer func() {
			if err := w.locker.ReleaseLock(ctx, lockKey); err != nil {
				w.logger.Warn("Failed to release issuance lock", zap.Error(err))
			}
		}()
	}

	result, err := w.wire.IssueNextVoucher(ctx, wsfe.VoucherRequest{
		SalesPoint:  w.afip.SalesPoint,
		VoucherType: w.afip.VoucherType,
		Concept:     w.afip.Concept,
		DocType:     customer.DocType,
		DocNumber:   customer.DocNumber,
		VoucherDate: time.Now(),
		Total:       o.Amount,
		Net:         o.Amount,
		Currency:    o.Currency,
	})
	if err != nil {
		var svcErr *wsfe.ServiceError
		if errors.As(err, &svcErr) {
			util.VouchersFailedTotal.WithLabelValues("rejected").Inc()
			return w.fail(ctx, o, svcErr.Error(), true)
		}
		util.VouchersFailedTotal.WithLabelValues("transport").Inc()
		return w.fail(ctx, o, err.Error(), false)
	}

	if err := w.store.SetOrderIssued(ctx, o.ID, result.VoucherNumber, result.CAE, result.CAEExpiry); err != nil {
		return err
	}
	o.Status = models.OrderStatusIssued
	o.VoucherNumber = result.VoucherNumber
	o.CAE = result.CAE
	o.CAEExpiry = result.CAEExpiry

	w.logger.Info("Voucher authorized",
		zap.String("order_id", o.ID),
		zap.Int64("voucher_number", result.VoucherNumber),
		zap.String("cae", result.CAE))

	if w.events != nil {
		event := &models.InvoiceIssuedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeInvoiceIssued,
				Timestamp: time.Now(),
			},
			OrderID:       o.ID,
			CustomerID:    o.CustomerID,
			VoucherNumber: result.VoucherNumber,
			CAE:           result.CAE,
		}
		if err := w.events.PublishInvoiceIssued(ctx, event); err != nil {
			w.logger.Error("Failed to publish InvoiceIssued event", zap.Error(err))
		}
	}
	return nil
}

// render writes the voucher document to disk and records its path.
func (w *Issuer) render(ctx context.Context, o *models.InvoiceOrder, customer *models.Customer) error {
	data, err := w.renderer.Render(pdf.InvoiceFields{
		OrderID:       o.ID,
		IssuerCuit:    w.afip.Cuit,
		IssuerName:    "Invoicing Service",
		SalesPoint:    w.afip.SalesPoint,
		VoucherType:   w.afip.VoucherType,
		VoucherNumber: o.VoucherNumber,
		CAE:           o.CAE,
		CAEExpiry:     o.CAEExpiry,
		CustomerName:  customer.Name,
		Concept:       o.Concept,
		PeriodKey:     o.PeriodKey,
		Amount:        o.Amount,
		Currency:      o.Currency,
		IssuedOn:      time.Now().Format("2006-01-02"),
	})
	if err != nil {
		return w.fail(ctx, o, fmt.Sprintf("pdf rendering failed: %v", err), false)
	}

	path := filepath.Join(w.business.PDFStoragePath, o.ID+".pdf")
	if err := os.MkdirAll(w.business.PDFStoragePath, 0o755); err != nil {
		return w.fail(ctx, o, fmt.Sprintf("pdf storage unavailable: %v", err), false)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return w.fail(ctx, o, fmt.Sprintf("pdf write failed: %v", err), false)
	}

	if err := w.store.SetOrderPDF(ctx, o.ID, path); err != nil {
		return err
	}
	o.Status = models.OrderStatusPDFReady
	o.PDFPath = path
	return nil
}

// deliver enqueues the invoice email. A customer without an email, or
// a broker outage, leaves the order parked in pdf_ready rather than
// failing it: the document is valid and delivery can follow later.
func (w *Issuer) deliver(ctx context.Context, o *models.InvoiceOrder, customer *models.Customer) error {
	if w.mail == nil || customer.Email == "" {
		w.logger.Info("Order finished at pdf_ready, no delivery address",
			zap.String("order_id", o.ID))
		return nil
	}

	msg := mailer.Message{
		To:      customer.Email,
		Subject: fmt.Sprintf("Comprobante %04d-%08d", w.afip.SalesPoint, o.VoucherNumber),
		Text:    fmt.Sprintf("Su comprobante por %s %s fue emitido. CAE %s.", o.Currency, o.Amount.StringFixed(2), o.CAE),
	}
	if err := w.mail.Enqueue(ctx, msg); err != nil {
		w.logger.Warn("Failed to enqueue invoice email",
			zap.String("order_id", o.ID),
			zap.Error(err))
		return nil
	}

	if err := w.store.SetOrderEmailed(ctx, o.ID, customer.Email); err != nil {
		return err
	}
	o.Status = models.OrderStatusEmailSent
	o.EmailSentTo = customer.Email

	w.logger.Info("Invoice delivered",
		zap.String("order_id", o.ID),
		zap.String("email", customer.Email))
	return nil
}

// fail records one failure. Transport failures re-enter pending until
// the retry ceiling; business rejections and the ceiling itself park
// the order in failed.
func (w *Issuer) fail(ctx context.Context, o *models.InvoiceOrder, reason string, terminal bool) error {
	parked, err := w.store.RecordOrderFailure(ctx, o.ID, reason, w.business.MaxIssueRetries, terminal)
	if err != nil {
		return err
	}
	if !parked {
		w.logger.Warn("Order re-entered pending for retry",
			zap.String("order_id", o.ID),
			zap.String("reason", reason))
		return nil
	}

	util.OrdersFailedTotal.WithLabelValues(failureLabel(terminal)).Inc()
	w.logger.Error("Order parked in failed",
		zap.String("order_id", o.ID),
		zap.String("reason", reason))

	if w.events != nil {
		event := &models.InvoiceFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeInvoiceFailed,
				Timestamp: time.Now(),
			},
			OrderID: o.ID,
			Reason:  reason,
		}
		if err := w.events.PublishInvoiceFailed(ctx, event); err != nil {
			w.logger.Error("Failed to publish InvoiceFailed event", zap.Error(err))
		}
	}
	return nil
}

func failureLabel(terminal bool) string {
	if terminal {
		return "rejected"
	}
	return "retries_exhausted"
}
