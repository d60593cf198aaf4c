// Package fingerprint derives stable content hashes from payment and
// invoice attributes. The same hash serves two purposes: economic
// duplicate detection on payments and idempotent identity for invoice
// orders.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Input holds the payment attributes that participate in the hash.
type Input struct {
	CustomerID    string
	Amount        decimal.Decimal
	Currency      string
	PaidAt        time.Time
	Method        string
	Reference     string
	WindowMinutes int
}

// Compute returns the hex digest of the pipe-joined payment tuple.
// Time is bucketed against a fixed origin: two payments fall in the
// same bucket iff they land in the same windowMinutes-wide slot, not
// iff they occur within windowMinutes of each other. Near-boundary
// pairs are caught by the ingestion service's symmetric window check.
func Compute(in Input) string {
	bucket := in.PaidAt.UnixMilli() / (int64(in.WindowMinutes) * 60_000)

	payload := strings.Join([]string{
		in.CustomerID,
		in.Amount.StringFixed(2),
		strings.ToUpper(strings.TrimSpace(in.Currency)),
		NormalizeReference(in.Reference),
		in.Method,
		strconv.FormatInt(bucket, 10),
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// InvoiceKey returns the deterministic identity of an invoice order.
// Two requests for the same (customer, concept, period, amount,
// currency) always map to the same key.
func InvoiceKey(customerID, concept, periodKey string, amount decimal.Decimal, currency string) string {
	payload := strings.Join([]string{
		customerID,
		concept,
		periodKey,
		amount.StringFixed(2),
		strings.ToUpper(strings.TrimSpace(currency)),
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// NormalizeReference strips the cosmetic variation out of a free-text
// payment reference so formatting differences don't defeat matching.
func NormalizeReference(ref string) string {
	return strings.Join(strings.Fields(strings.ToLower(ref)), " ")
}
