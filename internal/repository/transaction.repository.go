package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ericomondi/e-api/internal/model"
	"github.com/ericomondi/e-api/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransitionConflict  = errors.New("transaction already settled")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// GetByCheckoutRequestID is the unscoped lookup used by the gateway callback.
func (r *TransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).
		Where("transaction_id = ?", checkoutRequestID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// GetByCheckoutRequestIDForUser misses for rows owned by someone else, so
// callers cannot tell a foreign transaction from a missing one.
func (r *TransactionRepository) GetByCheckoutRequestIDForUser(ctx context.Context, checkoutRequestID string, userID int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).
		Where("transaction_id = ? AND user_id = ?", checkoutRequestID, userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// ApplyOutcome settles a PROCESSING row. The update is conditional on the
// current status, so concurrent or repeated callbacks settle a row once.
func (r *TransactionRepository) ApplyOutcome(ctx context.Context, id int64, outcome model.TransactionOutcome) (*model.Transaction, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":     string(outcome.Status),
		"feedback":   outcome.Feedback,
		"updated_at": time.Now(),
	}
	if outcome.Code != nil {
		updates["transaction_code"] = *outcome.Code
	}

	var updated *model.Transaction
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		result := r.Write(ctx).
			Model(&TransactionEntity{}).
			Where("id = ? AND status = ?", id, string(model.TransactionStatusProcessing)).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}

		var entity TransactionEntity
		if err := r.Write(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		updated = toTransactionModel(&entity)

		if result.RowsAffected == 0 {
			return ErrTransitionConflict
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return updated, err
		}
		return nil, err
	}
	return updated, nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	f.Normalize()

	q := r.Read(ctx).Model(&TransactionEntity{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.PID != nil {
		q = q.Where("pid = ?", *f.PID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entities []*TransactionEntity
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(f.Skip).
		Limit(f.Limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, 0, err
	}
	return toTransactionModels(entities), total, nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, skip, limit int) ([]*model.Transaction, int64, error) {
	return r.List(ctx, model.TransactionFilter{UserID: &userID, Skip: skip, Limit: limit})
}

func (r *TransactionRepository) CountByOrder(ctx context.Context, orderID int64) (int64, error) {
	var n int64
	err := r.Read(ctx).
		Model(&TransactionEntity{}).
		Where("pid = ?", orderID).
		Count(&n).
		Error
	return n, err
}

// CountActiveByOrder counts attempts for an order that are still waiting on
// the gateway or already paid.
func (r *TransactionRepository) CountActiveByOrder(ctx context.Context, orderID int64) (int64, error) {
	var n int64
	err := r.Read(ctx).
		Model(&TransactionEntity{}).
		Where("pid = ? AND status IN ?", orderID, []string{
			string(model.TransactionStatusProcessing),
			string(model.TransactionStatusAccepted),
		}).
		Count(&n).
		Error
	return n, err
}
