package services

import (
	"context"

	gateway "github.com/ericomondi/e-api/internal/gateways"
	"github.com/ericomondi/e-api/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByCheckoutRequestID(ctx context.Context, id string) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) GetByCheckoutRequestIDForUser(ctx context.Context, id string, userID int64) (*model.Transaction, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ApplyOutcome(ctx context.Context, id int64, outcome model.TransactionOutcome) (*model.Transaction, error) {
	args := m.Called(ctx, id, outcome)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) ListByUser(ctx context.Context, userID int64, skip, limit int) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, userID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockTransactionRepository) CountActiveByOrder(ctx context.Context, orderID int64) (int64, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(int64), args.Error(1)
}

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) GetForUser(ctx context.Context, orderID, userID int64) (*model.Order, error) {
	args := m.Called(ctx, orderID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) AccessToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) STKPush(ctx context.Context, token string, req gateway.PushRequest) (*gateway.PushResponse, error) {
	args := m.Called(ctx, token, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PushResponse), args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, token, checkoutRequestID string) (*gateway.QueryResponse, error) {
	args := m.Called(ctx, token, checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.QueryResponse), args.Error(1)
}

type MockInflightGuard struct {
	mock.Mock
}

func (m *MockInflightGuard) Acquire(ctx context.Context, orderID int64) (string, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Error(1)
}

func (m *MockInflightGuard) Bind(ctx context.Context, orderID int64, token, checkoutRequestID string) (bool, error) {
	args := m.Called(ctx, orderID, token, checkoutRequestID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInflightGuard) Release(ctx context.Context, orderID int64, token string) error {
	args := m.Called(ctx, orderID, token)
	return args.Error(0)
}

type MockOrphanParker struct {
	mock.Mock
}

func (m *MockOrphanParker) Park(ctx context.Context, checkoutRequestID string, raw []byte) error {
	args := m.Called(ctx, checkoutRequestID, raw)
	return args.Error(0)
}

type MockInventoryHook struct {
	mock.Mock
}

func (m *MockInventoryHook) Restock(ctx context.Context, orderID int64) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}
