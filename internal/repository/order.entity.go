package repository

import (
	"time"

	"github.com/ericomondi/e-api/internal/model"
	"github.com/shopspring/decimal"
)

type OrderEntity struct {
	ID          int64           `db:"order_id"     gorm:"primaryKey;autoIncrement;column:order_id"`
	Total       decimal.Decimal `db:"total"        gorm:"column:total;type:numeric(12,2);not null"`
	Status      string          `db:"status"       gorm:"column:status;not null;default:pending"`
	UserID      int64           `db:"user_id"      gorm:"column:user_id;not null;index"`
	DeliveryFee decimal.Decimal `db:"delivery_fee" gorm:"column:delivery_fee;type:numeric(12,2);not null;default:0"`
	CreatedAt   time.Time       `db:"datetime"     gorm:"column:datetime;autoCreateTime"`
	CompletedAt *time.Time      `db:"completed_at" gorm:"column:completed_at"`
}

func (OrderEntity) TableName() string {
	return "orders"
}

type OrderDetailEntity struct {
	ID         int64           `db:"order_detail_id" gorm:"primaryKey;autoIncrement;column:order_detail_id"`
	OrderID    int64           `db:"order_id"        gorm:"column:order_id;not null;index"`
	ProductID  *int64          `db:"product_id"      gorm:"column:product_id"`
	Quantity   decimal.Decimal `db:"quantity"        gorm:"column:quantity;type:numeric(12,2);not null"`
	TotalPrice decimal.Decimal `db:"total_price"     gorm:"column:total_price;type:numeric(12,2);not null"`
}

func (OrderDetailEntity) TableName() string {
	return "order_details"
}

type ProductEntity struct {
	ID            int64           `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	Name          string          `db:"name"           gorm:"column:name;not null"`
	Price         decimal.Decimal `db:"price"          gorm:"column:price;type:numeric(12,2);not null"`
	StockQuantity decimal.Decimal `db:"stock_quantity" gorm:"column:stock_quantity;type:numeric(12,2);not null;default:0"`
	UserID        *int64          `db:"user_id"        gorm:"column:user_id"`
	CreatedAt     time.Time       `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (ProductEntity) TableName() string {
	return "products"
}

func toOrderModel(e *OrderEntity) *model.Order {
	if e == nil {
		return nil
	}
	return &model.Order{
		ID:          e.ID,
		Total:       e.Total,
		Status:      model.OrderStatus(e.Status),
		UserID:      e.UserID,
		DeliveryFee: e.DeliveryFee,
		CreatedAt:   e.CreatedAt,
		CompletedAt: e.CompletedAt,
	}
}

func toOrderDetailModel(e *OrderDetailEntity) *model.OrderDetail {
	if e == nil {
		return nil
	}
	return &model.OrderDetail{
		ID:         e.ID,
		OrderID:    e.OrderID,
		ProductID:  e.ProductID,
		Quantity:   e.Quantity,
		TotalPrice: e.TotalPrice,
	}
}
