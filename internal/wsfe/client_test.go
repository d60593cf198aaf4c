package wsfe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTickets struct{}

func (staticTickets) GetTicket(ctx context.Context) (string, string, error) {
	return "tok", "sig", nil
}

const lastVoucherResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECompUltimoAutorizadoResult>
        <PtoVta>3</PtoVta>
        <CbteTipo>11</CbteTipo>
        <CbteNro>100</CbteNro>
      </FECompUltimoAutorizadoResult>
    </FECompUltimoAutorizadoResponse>
  </soap:Body>
</soap:Envelope>`

const caeApprovedResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECAESolicitarResult>
        <FeCabResp><Resultado>A</Resultado></FeCabResp>
        <FeDetResp>
          <FECAEDetResponse>
            <CbteDesde>101</CbteDesde>
            <CbteHasta>101</CbteHasta>
            <Resultado>A</Resultado>
            <CAE>74123456789012</CAE>
            <CAEFchVto>20240320</CAEFchVto>
          </FECAEDetResponse>
        </FeDetResp>
      </FECAESolicitarResult>
    </FECAESolicitarResponse>
  </soap:Body>
</soap:Envelope>`

const caeRejectedResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECAESolicitarResult>
        <FeCabResp><Resultado>R</Resultado></FeCabResp>
        <FeDetResp>
          <FECAEDetResponse>
            <Resultado>R</Resultado>
            <CAE></CAE>
            <Observaciones>
              <Obs><Code>10016</Code><Msg>Campo CbteFch no se corresponde</Msg></Obs>
            </Observaciones>
          </FECAEDetResponse>
        </FeDetResp>
      </FECAESolicitarResult>
    </FECAESolicitarResponse>
  </soap:Body>
</soap:Envelope>`

const caeErrorsResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECAESolicitarResult>
        <Errors>
          <Err><Code>600</Code><Msg>ValidacionDeToken: no apareci&#243; CUIT en lista de relaciones</Msg></Err>
        </Errors>
      </FECAESolicitarResult>
    </FECAESolicitarResponse>
  </soap:Body>
</soap:Envelope>`

const soapFaultResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>Internal server error</faultstring>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`

func testRequest() VoucherRequest {
	return VoucherRequest{
		SalesPoint:  3,
		VoucherType: 11,
		Concept:     2,
		DocType:     99,
		VoucherDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Total:       decimal.NewFromInt(5000),
		Net:         decimal.NewFromInt(5000),
		VATTotal:    decimal.Zero,
		Currency:    "PES",
	}
}

func TestLastVoucherNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<Token>tok</Token>")
		assert.Contains(t, string(body), "<Cuit>20111111112</Cuit>")
		fmt.Fprint(w, lastVoucherResponse)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20111111112, staticTickets{})
	last, err := c.LastVoucherNumber(context.Background(), 3, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(100), last)
}

func TestIssueNextVoucherSubmitsLastPlusOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "FECompUltimoAutorizado") {
			fmt.Fprint(w, lastVoucherResponse)
			return
		}
		assert.Contains(t, string(body), "<CbteDesde>101</CbteDesde>")
		assert.Contains(t, string(body), "<CbteHasta>101</CbteHasta>")
		// Service concept defaults period fields to the voucher date.
		assert.Contains(t, string(body), "<FchServDesde>20240310</FchServDesde>")
		assert.Contains(t, string(body), "<FchVtoPago>20240310</FchVtoPago>")
		fmt.Fprint(w, caeApprovedResponse)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20111111112, staticTickets{})
	result, err := c.IssueNextVoucher(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(101), result.VoucherNumber)
	assert.Equal(t, "74123456789012", result.CAE)
	assert.Equal(t, "20240320", result.CAEExpiry)
}

func TestIssueVoucherObservationsWithoutCAE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, caeRejectedResponse)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20111111112, staticTickets{})
	req := testRequest()
	req.VoucherNumber = 101

	_, err := c.IssueVoucher(context.Background(), req)
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 10016, svcErr.Code)
	assert.Contains(t, svcErr.Msg, "CbteFch")
}

func TestIssueVoucherErrorsBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, caeErrorsResponse)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20111111112, staticTickets{})
	req := testRequest()
	req.VoucherNumber = 101

	_, err := c.IssueVoucher(context.Background(), req)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 600, svcErr.Code)
}

func TestSoapFaultIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapFaultResponse)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20111111112, staticTickets{})
	_, err := c.LastVoucherNumber(context.Background(), 3, 11)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Contains(t, transportErr.Reason, "Internal server error")
}

func TestDateInt(t *testing.T) {
	assert.Equal(t, 20240310, DateInt(time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, 20241201, DateInt(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
}
