// Package pdf renders issued vouchers into customer-facing documents.
// Rendering is a pure function of its input and needs no network.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// InvoiceFields carries everything the document shows.
type InvoiceFields struct {
	OrderID       string
	IssuerCuit    int64
	IssuerName    string
	SalesPoint    int
	VoucherType   int
	VoucherNumber int64
	CAE           string
	CAEExpiry     string
	CustomerName  string
	Concept       string
	PeriodKey     string
	Amount        decimal.Decimal
	Currency      string
	IssuedOn      string
}

// Renderer produces PDF bytes for an issued invoice.
type Renderer interface {
	Render(fields InvoiceFields) ([]byte, error)
}

// FPDFRenderer is the default renderer.
type FPDFRenderer struct{}

func NewRenderer() *FPDFRenderer {
	return &FPDFRenderer{}
}

// Render lays out a single-page voucher document.
func (r *FPDFRenderer) Render(fields InvoiceFields) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 16)
	doc.CellFormat(0, 10, fields.IssuerName, "", 1, "L", false, 0, "")

	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(0, 6, fmt.Sprintf("CUIT %d - Punto de venta %04d", fields.IssuerCuit, fields.SalesPoint), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Comprobante tipo %d Nro %08d", fields.VoucherType, fields.VoucherNumber), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 6, fmt.Sprintf("Fecha de emision: %s", fields.IssuedOn), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(0, 7, fields.CustomerName, "", 1, "L", false, 0, "")

	doc.SetFont("Helvetica", "", 10)
	concept := fields.Concept
	if fields.PeriodKey != "" {
		concept = fmt.Sprintf("%s (%s)", concept, fields.PeriodKey)
	}
	doc.CellFormat(120, 8, concept, "1", 0, "L", false, 0, "")
	doc.CellFormat(0, 8, fmt.Sprintf("%s %s", fields.Currency, fields.Amount.StringFixed(2)), "1", 1, "R", false, 0, "")
	doc.Ln(6)

	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(0, 5, fmt.Sprintf("CAE: %s", fields.CAE), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 5, fmt.Sprintf("Vencimiento CAE: %s", fields.CAEExpiry), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}
