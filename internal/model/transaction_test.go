package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(TransactionStatusProcessing, TransactionStatusAccepted))
	assert.True(t, CanTransition(TransactionStatusProcessing, TransactionStatusRejected))

	assert.False(t, CanTransition(TransactionStatusProcessing, TransactionStatusProcessed))
	assert.False(t, CanTransition(TransactionStatusAccepted, TransactionStatusRejected))
	assert.False(t, CanTransition(TransactionStatusRejected, TransactionStatusAccepted))
	assert.False(t, CanTransition(TransactionStatusPending, TransactionStatusAccepted))
}

func TestTransactionStatus_IsTerminal(t *testing.T) {
	assert.False(t, TransactionStatusPending.IsTerminal())
	assert.False(t, TransactionStatusProcessing.IsTerminal())
	assert.True(t, TransactionStatusAccepted.IsTerminal())
	assert.True(t, TransactionStatusRejected.IsTerminal())
	assert.True(t, TransactionStatusProcessed.IsTerminal())
}

func TestTransactionOutcome_Validate(t *testing.T) {
	assert.NoError(t, TransactionOutcome{Status: TransactionStatusAccepted}.Validate())
	assert.Error(t, TransactionOutcome{Status: TransactionStatusPending}.Validate())
}

func TestTransactionFilter_Normalize(t *testing.T) {
	f := TransactionFilter{Skip: -3}
	f.Normalize()
	assert.Equal(t, 0, f.Skip)
	assert.Equal(t, DefaultListLimit, f.Limit)

	f = TransactionFilter{Skip: 20, Limit: 500}
	f.Normalize()
	assert.Equal(t, 20, f.Skip)
	assert.Equal(t, MaxListLimit, f.Limit)
}

func TestInitiatePaymentRequest_Validate(t *testing.T) {
	valid := func() InitiatePaymentRequest {
		return InitiatePaymentRequest{
			OrderID:     42,
			Amount:      decimal.RequireFromString("100.50"),
			PhoneNumber: " 254712345678 ",
			UserID:      7,
		}
	}

	req := valid()
	assert.NoError(t, req.Validate())
	assert.Equal(t, "254712345678", req.PhoneNumber)

	req = valid()
	req.PhoneNumber = "+254712345678"
	assert.NoError(t, req.Validate())
	assert.Equal(t, "254712345678", req.PhoneNumber)

	cases := []struct {
		name   string
		mutate func(*InitiatePaymentRequest)
		want   error
	}{
		{"missing order", func(r *InitiatePaymentRequest) { r.OrderID = 0 }, ErrInvalidOrderID},
		{"missing user", func(r *InitiatePaymentRequest) { r.UserID = 0 }, ErrInvalidUserID},
		{"zero amount", func(r *InitiatePaymentRequest) { r.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(r *InitiatePaymentRequest) { r.Amount = decimal.NewFromInt(-5) }, ErrInvalidAmount},
		{"sub-unit amount", func(r *InitiatePaymentRequest) { r.Amount = decimal.RequireFromString("0.5") }, ErrInvalidAmount},
		{"short phone", func(r *InitiatePaymentRequest) { r.PhoneNumber = "071234" }, ErrInvalidPhone},
		{"long phone", func(r *InitiatePaymentRequest) { r.PhoneNumber = "2547123456789012" }, ErrInvalidPhone},
		{"non-digit phone", func(r *InitiatePaymentRequest) { r.PhoneNumber = "25471234x678" }, ErrInvalidPhone},
		{"plus in the middle", func(r *InitiatePaymentRequest) { r.PhoneNumber = "254+712345678" }, ErrInvalidPhone},
		{"double plus", func(r *InitiatePaymentRequest) { r.PhoneNumber = "++254712345678" }, ErrInvalidPhone},
		{"long with plus", func(r *InitiatePaymentRequest) { r.PhoneNumber = "+2547123456789012" }, ErrInvalidPhone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid()
			tc.mutate(&r)
			assert.ErrorIs(t, r.Validate(), tc.want)
		})
	}
}
