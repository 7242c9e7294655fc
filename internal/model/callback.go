package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidCallback = errors.New("invalid callback payload")

const ReceiptNumberItem = "MpesaReceiptNumber"

// ResultCode accepts both a JSON number and a numeric string.
type ResultCode int

func (c *ResultCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("result code %s: %w", string(b), err)
	}
	*c = ResultCode(n)
	return nil
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// StringValue renders the item value the way it appears on a receipt.
func (i CallbackItem) StringValue() (string, bool) {
	switch v := i.Value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *ResultCode       `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type STKCallbackBody struct {
	StkCallback *STKCallback `json:"stkCallback"`
}

// STKCallbackEnvelope is the canonical shape posted by the gateway:
// {"Body": {"stkCallback": {...}}}.
type STKCallbackEnvelope struct {
	Body *STKCallbackBody `json:"Body"`
}

// ParseSTKCallback decodes and validates a raw callback body. Every failure
// wraps ErrInvalidCallback.
func ParseSTKCallback(raw []byte) (*STKCallback, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidCallback)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env STKCallbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrInvalidCallback)
	}
	cb := env.Body.StkCallback
	cb.CheckoutRequestID = strings.TrimSpace(cb.CheckoutRequestID)
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrInvalidCallback)
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrInvalidCallback)
	}
	return cb, nil
}

func (c *STKCallback) Succeeded() bool {
	return c.ResultCode != nil && *c.ResultCode == 0
}

// ReceiptNumber returns the first MpesaReceiptNumber item, if any.
func (c *STKCallback) ReceiptNumber() *string {
	if c.CallbackMetadata == nil {
		return nil
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != ReceiptNumberItem {
			continue
		}
		v, ok := item.StringValue()
		if !ok || v == "" {
			return nil
		}
		return &v
	}
	return nil
}
