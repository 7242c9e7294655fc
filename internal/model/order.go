package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Order is owned by the store side of the system; payments only read it.
type Order struct {
	ID          int64           `json:"order_id"`
	Total       decimal.Decimal `json:"total"`
	Status      OrderStatus     `json:"status"`
	UserID      int64           `json:"user_id"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	CreatedAt   time.Time       `json:"datetime"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type OrderDetail struct {
	ID         int64           `json:"order_detail_id"`
	OrderID    int64           `json:"order_id"`
	ProductID  *int64          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
}
