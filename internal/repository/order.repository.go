package repository

import (
	"context"
	"errors"

	"github.com/ericomondi/e-api/internal/model"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/pg"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository struct {
	*pg.DB
}

func NewOrderRepository(db *pg.DB) *OrderRepository {
	return &OrderRepository{
		db,
	}
}

// GetForUser returns the order only when it belongs to userID.
func (r *OrderRepository) GetForUser(ctx context.Context, orderID, userID int64) (*model.Order, error) {
	var entity OrderEntity
	err := r.Read(ctx).
		Where("order_id = ? AND user_id = ?", orderID, userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return toOrderModel(&entity), nil
}

func (r *OrderRepository) Details(ctx context.Context, orderID int64) ([]*model.OrderDetail, error) {
	var entities []*OrderDetailEntity
	err := r.Read(ctx).
		Where("order_id = ?", orderID).
		Order("order_detail_id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	details := make([]*model.OrderDetail, len(entities))
	for i, e := range entities {
		details[i] = toOrderDetailModel(e)
	}
	return details, nil
}

// Restock cancels the order and returns each line's quantity to its product.
// An order that is already cancelled is left alone, so calling Restock twice
// adds stock once.
func (r *OrderRepository) Restock(ctx context.Context, orderID int64) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		result := r.Write(ctx).
			Model(&OrderEntity{}).
			Where("order_id = ? AND status <> ?", orderID, string(model.OrderStatusCancelled)).
			Update("status", string(model.OrderStatusCancelled))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var n int64
			if err := r.Write(ctx).Model(&OrderEntity{}).Where("order_id = ?", orderID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrOrderNotFound
			}
			logger.Debug("order already cancelled, skipping restock", "order_id", orderID)
			return nil
		}

		details, err := r.Details(ctx, orderID)
		if err != nil {
			return err
		}
		for _, d := range details {
			if d.ProductID == nil {
				continue
			}
			err := r.Write(ctx).
				Model(&ProductEntity{}).
				Where("id = ?", *d.ProductID).
				Update("stock_quantity", gorm.Expr("stock_quantity + ?", d.Quantity)).
				Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
