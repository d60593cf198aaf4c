package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidOrderTransition(t *testing.T) {
	valid := [][2]string{
		{OrderStatusPending, OrderStatusIssuing},
		{OrderStatusIssuing, OrderStatusIssued},
		{OrderStatusIssuing, OrderStatusPending},
		{OrderStatusIssuing, OrderStatusFailed},
		{OrderStatusIssued, OrderStatusPDFReady},
		{OrderStatusIssued, OrderStatusPending},
		{OrderStatusPDFReady, OrderStatusEmailSent},
		{OrderStatusPDFReady, OrderStatusFailed},
	}
	for _, tc := range valid {
		assert.True(t, ValidOrderTransition(tc[0], tc[1]), "%s -> %s should be legal", tc[0], tc[1])
	}

	invalid := [][2]string{
		{OrderStatusPending, OrderStatusIssued},
		{OrderStatusPending, OrderStatusEmailSent},
		{OrderStatusPending, OrderStatusFailed},
		{OrderStatusIssuing, OrderStatusEmailSent},
		{OrderStatusIssued, OrderStatusEmailSent},
		{OrderStatusEmailSent, OrderStatusPending},
		{OrderStatusFailed, OrderStatusIssuing},
		{OrderStatusFailed, OrderStatusPending},
	}
	for _, tc := range invalid {
		assert.False(t, ValidOrderTransition(tc[0], tc[1]), "%s -> %s should be rejected", tc[0], tc[1])
	}
}

func TestErrIllegalTransitionMessage(t *testing.T) {
	err := &ErrIllegalTransition{From: OrderStatusPending, To: OrderStatusEmailSent}
	assert.Contains(t, err.Error(), "pending -> email_sent")
}
