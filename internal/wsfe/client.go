// Package wsfe issues SOAP calls to the AFIP WSFEv1 invoicing service:
// last-voucher lookup and CAE authorization requests.
package wsfe

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"invoicing-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TicketProvider supplies the current authentication credentials.
type TicketProvider interface {
	GetTicket(ctx context.Context) (token, sign string, err error)
}

// ServiceError is a business rejection from the authority, surfaced
// verbatim with its numeric code. Retrying the same request will fail
// identically, so callers must not retry these automatically.
type ServiceError struct {
	Code int
	Msg  string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("wsfe rejected request: code=%d msg=%s", e.Code, e.Msg)
}

// TransportError is a protocol-level fault (SOAP fault, timeout,
// malformed envelope), distinct from a business rejection and
// retryable by the issuer worker.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wsfe transport fault: %s", e.Reason)
}

// VATEntry is one line of the optional VAT breakdown. Omit the whole
// array for untaxed or simplified regimes.
type VATEntry struct {
	RateID int
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// VoucherRequest describes a single voucher to authorize.
type VoucherRequest struct {
	SalesPoint    int
	VoucherType   int
	Concept       int
	DocType       int
	DocNumber     int64
	VoucherNumber int64
	VoucherDate   time.Time
	Total         decimal.Decimal
	Net           decimal.Decimal
	VATTotal      decimal.Decimal
	Currency      string
	ServiceFrom   *time.Time
	ServiceTo     *time.Time
	PaymentDue    *time.Time
	VAT           []VATEntry
}

// VoucherResult carries the authorization granted by the authority.
type VoucherResult struct {
	VoucherNumber int64
	CAE           string
	CAEExpiry     string
}

// Client is the invoice wire client. Every call attaches the current
// ticket plus the issuer's CUIT as the auth header block.
type Client struct {
	url    string
	cuit   int64
	auth   TicketProvider
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a wire client for the given endpoint and CUIT.
func NewClient(url string, cuit int64, auth TicketProvider) *Client {
	return &Client{
		url:    url,
		cuit:   cuit,
		auth:   auth,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: util.GetLogger(),
	}
}

// LastVoucherNumber returns the highest authorized voucher number for
// a sales point and voucher type.
func (c *Client) LastVoucherNumber(ctx context.Context, salesPoint, voucherType int) (int64, error) {
	token, sign, err := c.auth.GetTicket(ctx)
	if err != nil {
		return 0, err
	}

	req := feUltimoAutorizado{
		Auth:     feAuth{Token: token, Sign: sign, Cuit: c.cuit},
		PtoVta:   salesPoint,
		CbteTipo: voucherType,
	}

	body, err := c.call(ctx, req)
	if err != nil {
		return 0, err
	}

	var resp feUltimoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return 0, &TransportError{Reason: fmt.Sprintf("malformed FECompUltimoAutorizado response: %v", err)}
	}
	if err := firstServiceError(resp.Result.Errors); err != nil {
		return 0, err
	}

	return resp.Result.CbteNro, nil
}

// IssueVoucher requests a CAE for one voucher. The voucher number in
// the request is used as both range start and end (single-voucher
// batches only).
func (c *Client) IssueVoucher(ctx context.Context, req VoucherRequest) (*VoucherResult, error) {
	token, sign, err := c.auth.GetTicket(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		util.VoucherIssueLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := c.call(ctx, buildCAERequest(feAuth{Token: token, Sign: sign, Cuit: c.cuit}, req))
	if err != nil {
		return nil, err
	}

	var resp feCAEResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Reason: fmt.Sprintf("malformed FECAESolicitar response: %v", err)}
	}

	result := resp.Result
	if err := firstServiceError(result.Errors); err != nil {
		return nil, err
	}

	if len(result.Details) == 0 {
		return nil, &TransportError{Reason: "FECAESolicitar response missing voucher detail"}
	}
	detail := result.Details[0]

	// Observations without a CAE are hard failures: the authority did
	// not authorize and we never invent a CAE.
	if detail.CAE == "" {
		if len(detail.Observations) > 0 {
			obs := detail.Observations[0]
			return nil, &ServiceError{Code: obs.Code, Msg: obs.Msg}
		}
		return nil, &ServiceError{Code: 0, Msg: fmt.Sprintf("voucher rejected with result %q", detail.Resultado)}
	}

	util.VouchersIssuedTotal.Inc()

	return &VoucherResult{
		VoucherNumber: req.VoucherNumber,
		CAE:           detail.CAE,
		CAEExpiry:     detail.CAEFchVto,
	}, nil
}

// IssueNextVoucher reads the last authorized number and submits last+1.
// Known race: concurrent issuance for the same sales point can collide
// or leave gaps. Callers serialize issuance per sales point.
func (c *Client) IssueNextVoucher(ctx context.Context, req VoucherRequest) (*VoucherResult, error) {
	last, err := c.LastVoucherNumber(ctx, req.SalesPoint, req.VoucherType)
	if err != nil {
		return nil, err
	}

	req.VoucherNumber = last + 1

	c.logger.Info("Issuing voucher",
		zap.Int("sales_point", req.SalesPoint),
		zap.Int("voucher_type", req.VoucherType),
		zap.Int64("voucher_number", req.VoucherNumber))

	return c.IssueVoucher(ctx, req)
}

// call posts one SOAP 1.2 request and returns the raw response body
// after fault screening.
func (c *Client) call(ctx context.Context, operation interface{}) ([]byte, error) {
	payload, err := xml.Marshal(soapEnvelope{Body: soapBody{Operation: operation}})
	if err != nil {
		return nil, err
	}
	payload = append([]byte(xml.Header), payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Reason: err.Error()}
	}

	var fault soapFaultEnvelope
	if xml.Unmarshal(body, &fault) == nil {
		if fault.FaultString != "" {
			return nil, &TransportError{Reason: fault.FaultString}
		}
		if fault.FaultReason != "" {
			return nil, &TransportError{Reason: fault.FaultReason}
		}
	}

	return body, nil
}

func firstServiceError(errs []feErr) error {
	if len(errs) == 0 {
		return nil
	}
	return &ServiceError{Code: errs[0].Code, Msg: errs[0].Msg}
}

// DateInt encodes a date the way the service expects: a yyyymmdd integer.
func DateInt(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
