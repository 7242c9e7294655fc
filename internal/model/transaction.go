package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus is the reconciliation state of one payment attempt.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusProcessed  TransactionStatus = "PROCESSED"
	TransactionStatusRejected   TransactionStatus = "REJECTED"
	TransactionStatusAccepted   TransactionStatus = "ACCEPTED"
)

// IsTerminal reports whether a callback has already settled the attempt.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusAccepted, TransactionStatusRejected, TransactionStatusProcessed:
		return true
	}
	return false
}

// CanTransition allows only PROCESSING -> ACCEPTED | REJECTED.
func CanTransition(from, to TransactionStatus) bool {
	if from != TransactionStatusProcessing {
		return false
	}
	return to == TransactionStatusAccepted || to == TransactionStatusRejected
}

type TransactionCategory int

const (
	CategoryPurchaseOrder TransactionCategory = 0
	CategoryOther         TransactionCategory = 1
)

type TransactionType int

const (
	TypeDebit  TransactionType = 0
	TypeCredit TransactionType = 1
)

type TransactionChannel int

const (
	ChannelOther TransactionChannel = 0
	ChannelLNMO  TransactionChannel = 1
)

type TransactionAggregator int

const (
	AggregatorMpesaKE TransactionAggregator = 0
)

type Transaction struct {
	ID                int64                 `json:"id"`
	PID               int64                 `json:"pid"`
	PartyA            string                `json:"party_a"`
	PartyB            string                `json:"party_b"`
	AccountReference  string                `json:"account_reference"`
	Category          TransactionCategory   `json:"transaction_category"`
	Type              TransactionType       `json:"transaction_type"`
	Channel           TransactionChannel    `json:"transaction_channel"`
	Aggregator        TransactionAggregator `json:"transaction_aggregator"`
	CheckoutRequestID string                `json:"transaction_id"`
	MerchantRequestID *string               `json:"merchant_request_id,omitempty"`
	Amount            decimal.Decimal       `json:"transaction_amount"`
	Code              *string               `json:"transaction_code"`
	Timestamp         time.Time             `json:"transaction_timestamp"`
	Details           string                `json:"transaction_details"`
	Feedback          datatypes.JSON        `json:"-"`
	Status            TransactionStatus     `json:"status"`
	UserID            int64                 `json:"user_id"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// TransactionOutcome is what a callback settles on a PROCESSING row.
type TransactionOutcome struct {
	Status   TransactionStatus
	Code     *string
	Feedback datatypes.JSON
}

func (o TransactionOutcome) Validate() error {
	if !CanTransition(TransactionStatusProcessing, o.Status) {
		return errors.New("outcome status must be ACCEPTED or REJECTED")
	}
	return nil
}

// TransactionFilter controls List queries.
type TransactionFilter struct {
	UserID *int64
	PID    *int64
	Status *TransactionStatus
	Skip   int
	Limit  int // default 10, max 100
}

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

func (f *TransactionFilter) Normalize() {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
}
