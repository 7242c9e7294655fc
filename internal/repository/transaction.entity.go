package repository

import (
	"time"

	"github.com/ericomondi/e-api/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionEntity struct {
	ID                int64           `db:"id"                     gorm:"primaryKey;autoIncrement;column:id"`
	PID               int64           `db:"pid"                    gorm:"column:pid;not null;index"`
	PartyA            string          `db:"party_a"                gorm:"column:party_a;not null"`
	PartyB            string          `db:"party_b"                gorm:"column:party_b;not null"`
	AccountReference  string          `db:"account_reference"      gorm:"column:account_reference;not null"`
	Category          int             `db:"transaction_category"   gorm:"column:transaction_category;not null;default:0"`
	Type              int             `db:"transaction_type"       gorm:"column:transaction_type;not null;default:1"`
	Channel           int             `db:"transaction_channel"    gorm:"column:transaction_channel;not null;default:1"`
	Aggregator        int             `db:"transaction_aggregator" gorm:"column:transaction_aggregator;not null;default:0"`
	CheckoutRequestID string          `db:"transaction_id"         gorm:"column:transaction_id;not null;uniqueIndex"`
	MerchantRequestID *string         `db:"merchant_request_id"    gorm:"column:merchant_request_id"`
	Amount            decimal.Decimal `db:"transaction_amount"     gorm:"column:transaction_amount;type:numeric(12,2);not null"`
	Code              *string         `db:"transaction_code"       gorm:"column:transaction_code"`
	Timestamp         time.Time       `db:"transaction_timestamp"  gorm:"column:transaction_timestamp;not null"`
	Details           string          `db:"transaction_details"    gorm:"column:transaction_details;not null;default:''"`
	Feedback          datatypes.JSON  `db:"feedback"               gorm:"column:feedback"`
	Status            string          `db:"status"                 gorm:"column:status;not null;index"`
	UserID            int64           `db:"user_id"                gorm:"column:user_id;not null;index"`
	CreatedAt         time.Time       `db:"created_at"             gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `db:"updated_at"             gorm:"column:updated_at;autoUpdateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                m.ID,
		PID:               m.PID,
		PartyA:            m.PartyA,
		PartyB:            m.PartyB,
		AccountReference:  m.AccountReference,
		Category:          int(m.Category),
		Type:              int(m.Type),
		Channel:           int(m.Channel),
		Aggregator:        int(m.Aggregator),
		CheckoutRequestID: m.CheckoutRequestID,
		MerchantRequestID: m.MerchantRequestID,
		Amount:            m.Amount,
		Code:              m.Code,
		Timestamp:         m.Timestamp,
		Details:           m.Details,
		Feedback:          m.Feedback,
		Status:            string(m.Status),
		UserID:            m.UserID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:                e.ID,
		PID:               e.PID,
		PartyA:            e.PartyA,
		PartyB:            e.PartyB,
		AccountReference:  e.AccountReference,
		Category:          model.TransactionCategory(e.Category),
		Type:              model.TransactionType(e.Type),
		Channel:           model.TransactionChannel(e.Channel),
		Aggregator:        model.TransactionAggregator(e.Aggregator),
		CheckoutRequestID: e.CheckoutRequestID,
		MerchantRequestID: e.MerchantRequestID,
		Amount:            e.Amount,
		Code:              e.Code,
		Timestamp:         e.Timestamp,
		Details:           e.Details,
		Feedback:          e.Feedback,
		Status:            model.TransactionStatus(e.Status),
		UserID:            e.UserID,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
