package model

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("amount must be greater than zero")
	ErrInvalidPhone   = errors.New("phone number must be 10 to 15 characters, digits with an optional leading +")
	ErrInvalidOrderID = errors.New("order id is required")
	ErrInvalidUserID  = errors.New("user id is required")
)

// InitiatePaymentRequest is the input of a push payment for one order.
type InitiatePaymentRequest struct {
	OrderID     int64
	Amount      decimal.Decimal
	PhoneNumber string
	UserID      int64
}

func (p *InitiatePaymentRequest) Validate() error {
	if p.OrderID <= 0 {
		return ErrInvalidOrderID
	}
	if p.UserID <= 0 {
		return ErrInvalidUserID
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	// the gateway only accepts whole units
	if p.Amount.Truncate(0).IsZero() {
		return ErrInvalidAmount
	}
	phone := strings.TrimSpace(p.PhoneNumber)
	if len(phone) < 10 || len(phone) > 15 {
		return ErrInvalidPhone
	}
	// the gateway wants a bare MSISDN
	digits := strings.TrimPrefix(phone, "+")
	if digits == "" {
		return ErrInvalidPhone
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ErrInvalidPhone
		}
	}
	p.PhoneNumber = digits
	return nil
}

// InitiateResult is returned to the payer; CheckoutRequestID must be kept
// to query the attempt later.
type InitiateResult struct {
	TransactionID     int64          `json:"transactionId"`
	CheckoutRequestID string         `json:"checkoutRequestId"`
	GatewayResponse   map[string]any `json:"gatewayResponse"`
}

const (
	AckStatusSuccess = "success"
	AckStatusError   = "error"
)

// CallbackAck is the body returned to the gateway for every callback.
type CallbackAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
