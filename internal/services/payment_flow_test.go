package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	gateway "github.com/ericomondi/e-api/internal/gateways"
	"github.com/ericomondi/e-api/internal/model"
	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/internal/repository"
	"github.com/ericomondi/e-api/pkg/pg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupFlowDB(t *testing.T) *pg.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:flow_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&repository.OrderEntity{},
		&repository.OrderDetailEntity{},
		&repository.ProductEntity{},
		&repository.TransactionEntity{},
	))
	require.NoError(t, db.Create(&repository.OrderEntity{
		ID:     42,
		Total:  decimal.NewFromInt(100),
		Status: string(model.OrderStatusPending),
		UserID: 7,
	}).Error)
	return pg.Wrap(db)
}

func TestPaymentFlow_InitiateThenCallback(t *testing.T) {
	ctx := context.Background()
	db := setupFlowDB(t)
	mr, adapter := setupTestRedis(t)

	txns := repository.NewTransactionRepository(db)
	orders := repository.NewOrderRepository(db)
	gw := new(MockGateway)
	guard, err := NewInflightGuard(adapter, time.Minute)
	require.NoError(t, err)

	svc := NewPaymentService(txns, orders, gw, WithInflightGuard(guard))

	gw.On("AccessToken", mock.Anything).Return("tok", nil)
	gw.On("STKPush", mock.Anything, "tok", mock.Anything).Return(pushResponse("ws_1"), nil).Once()

	result, err := svc.Initiate(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "ws_1", result.CheckoutRequestID)

	stored, err := txns.GetByCheckoutRequestID(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusProcessing, stored.Status)
	assert.Equal(t, int64(7), stored.UserID)
	assert.Equal(t, int64(42), stored.PID)
	assert.True(t, decimal.NewFromInt(100).Equal(stored.Amount))
	assert.Nil(t, stored.Code)

	_, err = svc.Initiate(ctx, validRequest())
	assert.ErrorIs(t, err, ErrPaymentInFlight)

	ack := svc.HandleCallback(ctx, successCallback("ws_1", "QWE123"))
	assert.Equal(t, model.CallbackAck{Status: "success", Message: "Callback processed"}, ack)

	stored, err = txns.GetByCheckoutRequestID(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusAccepted, stored.Status)
	require.NotNil(t, stored.Code)
	assert.Equal(t, "QWE123", *stored.Code)
	assert.Contains(t, string(stored.Feedback), "QWE123")
	assert.False(t, mr.Exists("payment:inflight:42"))

	// a late failure for the same push changes nothing
	ack = svc.HandleCallback(ctx, failedCallback("ws_1", 1032))
	assert.Equal(t, "success", ack.Status)
	stored, err = txns.GetByCheckoutRequestID(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusAccepted, stored.Status)
	assert.Equal(t, "QWE123", *stored.Code)

	_, err = svc.QueryStatus(ctx, "ws_1", 8)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	items, total, err := svc.ListTransactions(ctx, 7, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, "ws_1", items[0].CheckoutRequestID)
}

func TestPaymentFlow_OrphanCallbackIsReplayed(t *testing.T) {
	ctx := context.Background()
	db := setupFlowDB(t)
	_, adapter := setupTestRedis(t)

	q, err := queue.NewQueue(ctx, adapter, queue.QueueConfig{
		Name:          "callbacks:orphan",
		ConsumerGroup: "reconciler",
		ConsumerName:  "test",
	})
	require.NoError(t, err)

	txns := repository.NewTransactionRepository(db)
	gw := new(MockGateway)
	svc := NewPaymentService(txns, repository.NewOrderRepository(db), gw, WithOrphanParker(NewOrphanQueue(q)))

	raw := successCallback("ws_early", "EARLY1")
	ack := svc.HandleCallback(ctx, raw)
	assert.Equal(t, "Transaction not found", ack.Message)

	n, err := adapter.XLen(ctx, "callbacks:orphan")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// the push is recorded after its callback arrived
	gw.On("AccessToken", mock.Anything).Return("tok", nil)
	gw.On("STKPush", mock.Anything, "tok", mock.Anything).Return(pushResponse("ws_early"), nil)
	_, err = svc.Initiate(ctx, validRequest())
	require.NoError(t, err)

	var replayed []string
	q.SetHandler(func(ctx context.Context, msg *queue.Message) error {
		replayed = append(replayed, msg.Metadata[OrphanMetaCheckoutRequestID])
		return svc.ReplayCallback(ctx, msg.Data)
	})
	assert.Equal(t, 1, q.Poll(ctx))
	assert.Equal(t, []string{"ws_early"}, replayed)

	stored, err := txns.GetByCheckoutRequestID(ctx, "ws_early")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusAccepted, stored.Status)
	assert.Equal(t, "EARLY1", *stored.Code)
}

func TestPaymentFlow_RejectedPaymentRestocks(t *testing.T) {
	ctx := context.Background()
	db := setupFlowDB(t)

	txns := repository.NewTransactionRepository(db)
	orders := repository.NewOrderRepository(db)
	gw := new(MockGateway)
	svc := NewPaymentService(txns, orders, gw, WithInventoryHook(orders))

	gw.On("AccessToken", mock.Anything).Return("tok", nil)
	gw.On("STKPush", mock.Anything, "tok", mock.Anything).Return(pushResponse("ws_r"), nil)

	_, err := svc.Initiate(ctx, validRequest())
	require.NoError(t, err)

	svc.HandleCallback(ctx, failedCallback("ws_r", 1032))

	order, err := orders.GetForUser(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, order.Status)

	_, err = svc.Initiate(ctx, validRequest())
	assert.ErrorIs(t, err, ErrOrderNotPayable)
}

func TestPaymentFlow_IdenticalCallbackTwice(t *testing.T) {
	ctx := context.Background()
	db := setupFlowDB(t)

	txns := repository.NewTransactionRepository(db)
	gw := new(MockGateway)
	svc := NewPaymentService(txns, repository.NewOrderRepository(db), gw)

	gw.On("AccessToken", mock.Anything).Return("tok", nil)
	gw.On("STKPush", mock.Anything, "tok", mock.Anything).Return(pushResponse("ws_1"), nil)

	_, err := svc.Initiate(ctx, validRequest())
	require.NoError(t, err)

	raw := successCallback("ws_1", "QWE123")
	ack := svc.HandleCallback(ctx, raw)
	assert.Equal(t, model.CallbackAck{Status: "success", Message: "Callback processed"}, ack)

	first, err := txns.GetByCheckoutRequestID(ctx, "ws_1")
	require.NoError(t, err)

	ack = svc.HandleCallback(ctx, raw)
	assert.Equal(t, model.CallbackAck{Status: "success", Message: "Callback processed"}, ack)

	second, err := txns.GetByCheckoutRequestID(ctx, "ws_1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusAccepted, second.Status)
	require.NotNil(t, second.Code)
	assert.Equal(t, "QWE123", *second.Code)
	assert.JSONEq(t, string(first.Feedback), string(second.Feedback))
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestPaymentFlow_LateCallbackKeepsNewerHold(t *testing.T) {
	ctx := context.Background()
	db := setupFlowDB(t)
	mr, adapter := setupTestRedis(t)

	txns := repository.NewTransactionRepository(db)
	gw := new(MockGateway)
	guard, err := NewInflightGuard(adapter, time.Minute)
	require.NoError(t, err)
	svc := NewPaymentService(txns, repository.NewOrderRepository(db), gw, WithInflightGuard(guard))

	gw.On("AccessToken", mock.Anything).Return("tok", nil)
	gw.On("STKPush", mock.Anything, "tok", mock.Anything).Return(pushResponse("ws_1"), nil).Once()
	gw.On("STKPush", mock.Anything, "tok", mock.Anything).Return(pushResponse("ws_2"), nil).Once()

	_, err = svc.Initiate(ctx, validRequest())
	require.NoError(t, err)

	// the first callback never shows up in time
	mr.FastForward(2 * time.Minute)

	_, err = svc.Initiate(ctx, validRequest())
	require.NoError(t, err)
	hold, err := mr.Get("payment:inflight:42")
	require.NoError(t, err)
	assert.Equal(t, "ws_2", hold)

	ack := svc.HandleCallback(ctx, failedCallback("ws_1", 1032))
	assert.Equal(t, "success", ack.Status)
	assert.True(t, mr.Exists("payment:inflight:42"))

	_, err = svc.Initiate(ctx, validRequest())
	assert.ErrorIs(t, err, ErrPaymentInFlight)

	svc.HandleCallback(ctx, successCallback("ws_2", "NEW222"))
	assert.False(t, mr.Exists("payment:inflight:42"))
}

var _ Gateway = (*gateway.Client)(nil)
