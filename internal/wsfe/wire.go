package wsfe

import "encoding/xml"

// Request/response shapes for the WSFEv1 wire protocol. Response
// structs match elements by local name only, so namespace prefixes are
// tolerated wherever the service chooses to emit them.

type soapEnvelope struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Body    soapBody
}

type soapBody struct {
	XMLName   xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Body"`
	Operation interface{}
}

type soapFaultEnvelope struct {
	XMLName     xml.Name `xml:"Envelope"`
	FaultString string   `xml:"Body>Fault>faultstring"`
	FaultReason string   `xml:"Body>Fault>Reason>Text"`
}

type feAuth struct {
	Token string `xml:"Token"`
	Sign  string `xml:"Sign"`
	Cuit  int64  `xml:"Cuit"`
}

type feUltimoAutorizado struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizado"`
	Auth     feAuth   `xml:"Auth"`
	PtoVta   int      `xml:"PtoVta"`
	CbteTipo int      `xml:"CbteTipo"`
}

type feErr struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type feUltimoResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Result  struct {
		PtoVta   int     `xml:"PtoVta"`
		CbteTipo int     `xml:"CbteTipo"`
		CbteNro  int64   `xml:"CbteNro"`
		Errors   []feErr `xml:"Errors>Err"`
	} `xml:"Body>FECompUltimoAutorizadoResponse>FECompUltimoAutorizadoResult"`
}

type feCAESolicitar struct {
	XMLName xml.Name   `xml:"http://ar.gov.afip.dif.FEV1/ FECAESolicitar"`
	Auth    feAuth     `xml:"Auth"`
	FeCAE   feCAEReqEl `xml:"FeCAEReq"`
}

type feCAEReqEl struct {
	Cabecera feCabRequest   `xml:"FeCabReq"`
	Detalles []feDetRequest `xml:"FeDetReq>FECAEDetRequest"`
}

type feCabRequest struct {
	CantReg  int `xml:"CantReg"`
	PtoVta   int `xml:"PtoVta"`
	CbteTipo int `xml:"CbteTipo"`
}

type feDetRequest struct {
	Concepto   int    `xml:"Concepto"`
	DocTipo    int    `xml:"DocTipo"`
	DocNro     int64  `xml:"DocNro"`
	CbteDesde  int64  `xml:"CbteDesde"`
	CbteHasta  int64  `xml:"CbteHasta"`
	CbteFch    int    `xml:"CbteFch"`
	ImpTotal   string `xml:"ImpTotal"`
	ImpTotConc string `xml:"ImpTotConc"`
	ImpNeto    string `xml:"ImpNeto"`
	ImpOpEx    string `xml:"ImpOpEx"`
	ImpTrib    string `xml:"ImpTrib"`
	ImpIVA     string `xml:"ImpIVA"`
	// Service-type concepts require the service period and payment due
	// date; zero values are omitted for product-only vouchers.
	FchServDesde int        `xml:"FchServDesde,omitempty"`
	FchServHasta int        `xml:"FchServHasta,omitempty"`
	FchVtoPago   int        `xml:"FchVtoPago,omitempty"`
	MonID        string     `xml:"MonId"`
	MonCotiz     string     `xml:"MonCotiz"`
	IVA          *feIVAWrap `xml:"Iva,omitempty"`
}

type feIVAWrap struct {
	Entries []feAlicIVA `xml:"AlicIva"`
}

type feAlicIVA struct {
	ID      int    `xml:"Id"`
	BaseImp string `xml:"BaseImp"`
	Importe string `xml:"Importe"`
}

type feObs struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type feCAEResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Result  struct {
		Header struct {
			Resultado string `xml:"Resultado"`
		} `xml:"FeCabResp"`
		Details []struct {
			CbteDesde    int64   `xml:"CbteDesde"`
			CbteHasta    int64   `xml:"CbteHasta"`
			Resultado    string  `xml:"Resultado"`
			CAE          string  `xml:"CAE"`
			CAEFchVto    string  `xml:"CAEFchVto"`
			Observations []feObs `xml:"Observaciones>Obs"`
		} `xml:"FeDetResp>FECAEDetResponse"`
		Errors []feErr `xml:"Errors>Err"`
	} `xml:"Body>FECAESolicitarResponse>FECAESolicitarResult"`
}

// buildCAERequest maps a VoucherRequest onto the wire shape. Dates are
// yyyymmdd integers; for service concepts (2 and 3) the period and
// payment-due fields default to the voucher date when not supplied.
func buildCAERequest(auth feAuth, req VoucherRequest) feCAESolicitar {
	detail := feDetRequest{
		Concepto:   req.Concept,
		DocTipo:    req.DocType,
		DocNro:     req.DocNumber,
		CbteDesde:  req.VoucherNumber,
		CbteHasta:  req.VoucherNumber,
		CbteFch:    DateInt(req.VoucherDate),
		ImpTotal:   req.Total.StringFixed(2),
		ImpTotConc: "0.00",
		ImpNeto:    req.Net.StringFixed(2),
		ImpOpEx:    "0.00",
		ImpTrib:    "0.00",
		ImpIVA:     req.VATTotal.StringFixed(2),
		MonID:      req.Currency,
		MonCotiz:   "1.000000",
	}

	if req.Concept == 2 || req.Concept == 3 {
		serviceFrom := req.VoucherDate
		if req.ServiceFrom != nil {
			serviceFrom = *req.ServiceFrom
		}
		serviceTo := req.VoucherDate
		if req.ServiceTo != nil {
			serviceTo = *req.ServiceTo
		}
		paymentDue := req.VoucherDate
		if req.PaymentDue != nil {
			paymentDue = *req.PaymentDue
		}
		detail.FchServDesde = DateInt(serviceFrom)
		detail.FchServHasta = DateInt(serviceTo)
		detail.FchVtoPago = DateInt(paymentDue)
	}

	if len(req.VAT) > 0 {
		wrap := &feIVAWrap{}
		for _, v := range req.VAT {
			wrap.Entries = append(wrap.Entries, feAlicIVA{
				ID:      v.RateID,
				BaseImp: v.Base.StringFixed(2),
				Importe: v.Amount.StringFixed(2),
			})
		}
		detail.IVA = wrap
	}

	return feCAESolicitar{
		Auth: auth,
		FeCAE: feCAEReqEl{
			Cabecera: feCabRequest{CantReg: 1, PtoVta: req.SalesPoint, CbteTipo: req.VoucherType},
			Detalles: []feDetRequest{detail},
		},
	}
}
