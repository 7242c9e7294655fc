package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	gateway "github.com/ericomondi/e-api/internal/gateways"
	"github.com/ericomondi/e-api/internal/model"
	"github.com/ericomondi/e-api/internal/repository"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/prom"
	"gorm.io/datatypes"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrOrderNotFound       = errors.New("order not found or doesn't belong to user")
	ErrOrderNotPayable     = errors.New("order can no longer be paid")
	ErrGatewayAuthFailed   = errors.New("failed to get payment gateway access token")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayRejected     = errors.New("payment gateway rejected the request")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStore               = errors.New("store error")
	ErrPaymentInFlight     = errors.New("a payment for this order is already in progress")
)

const (
	ackCallbackProcessed = "Callback processed"
	ackInvalidPayload    = "invalid callback payload"
	ackNotFound          = "Transaction not found"
	ackFailed            = "Callback processing failed"
)

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.Transaction, error)
	GetByCheckoutRequestIDForUser(ctx context.Context, checkoutRequestID string, userID int64) (*model.Transaction, error)
	ApplyOutcome(ctx context.Context, id int64, outcome model.TransactionOutcome) (*model.Transaction, error)
	ListByUser(ctx context.Context, userID int64, skip, limit int) ([]*model.Transaction, int64, error)
	CountActiveByOrder(ctx context.Context, orderID int64) (int64, error)
}

type OrderRepository interface {
	GetForUser(ctx context.Context, orderID, userID int64) (*model.Order, error)
}

type Gateway interface {
	AccessToken(ctx context.Context) (string, error)
	STKPush(ctx context.Context, token string, req gateway.PushRequest) (*gateway.PushResponse, error)
	QueryStatus(ctx context.Context, token, checkoutRequestID string) (*gateway.QueryResponse, error)
}

// InflightGuard keeps a second push for the same order from starting while
// one is waiting on its callback.
type InflightGuard interface {
	Acquire(ctx context.Context, orderID int64) (token string, err error)
	// Bind re-keys the hold to the checkout request id of the accepted push.
	Bind(ctx context.Context, orderID int64, token, checkoutRequestID string) (bool, error)
	// Release drops the hold if it still carries token.
	Release(ctx context.Context, orderID int64, token string) error
}

// OrphanParker keeps callbacks that arrived before their transaction row.
type OrphanParker interface {
	Park(ctx context.Context, checkoutRequestID string, raw []byte) error
}

// InventoryHook compensates stock when a payment is rejected.
type InventoryHook interface {
	Restock(ctx context.Context, orderID int64) error
}

type PaymentService struct {
	transactionRepo TransactionRepository
	orderRepo       OrderRepository
	gateway         Gateway
	inflight        InflightGuard
	orphans         OrphanParker
	inventory       InventoryHook
}

type Option func(*PaymentService)

func WithInflightGuard(g InflightGuard) Option {
	return func(s *PaymentService) { s.inflight = g }
}

func WithOrphanParker(p OrphanParker) Option {
	return func(s *PaymentService) { s.orphans = p }
}

func WithInventoryHook(h InventoryHook) Option {
	return func(s *PaymentService) { s.inventory = h }
}

func NewPaymentService(transactionRepo TransactionRepository, orderRepo OrderRepository, gw Gateway, opts ...Option) *PaymentService {
	s := &PaymentService{
		transactionRepo: transactionRepo,
		orderRepo:       orderRepo,
		gateway:         gw,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate pushes a payment prompt to the payer's phone and records the
// attempt as PROCESSING. Nothing is written unless the gateway accepted the
// push.
func (s *PaymentService) Initiate(ctx context.Context, req model.InitiatePaymentRequest) (*model.InitiateResult, error) {
	if err := req.Validate(); err != nil {
		prom.AddPaymentInitiation("invalid")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	order, err := s.orderRepo.GetForUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			prom.AddPaymentInitiation("order_not_found")
			return nil, ErrOrderNotFound
		}
		prom.AddPaymentInitiation("store_error")
		return nil, fmt.Errorf("%w: load order: %w", ErrStore, err)
	}
	if order.Status == model.OrderStatusCancelled {
		prom.AddPaymentInitiation("order_not_payable")
		return nil, ErrOrderNotPayable
	}

	holdToken, held, err := s.acquire(ctx, req.OrderID)
	if err != nil {
		prom.AddPaymentInitiation("in_flight")
		return nil, err
	}

	result, err := s.initiate(ctx, req, func(checkoutRequestID string) {
		if held && s.bind(ctx, req.OrderID, holdToken, checkoutRequestID) {
			holdToken = checkoutRequestID
		}
	})
	if err != nil {
		if held {
			if rerr := s.inflight.Release(ctx, req.OrderID, holdToken); rerr != nil {
				logger.Warn("failed to release in-flight hold", "order_id", req.OrderID, "error", rerr)
			}
		}
		return nil, err
	}
	prom.AddPaymentInitiation("ok")
	return result, nil
}

func (s *PaymentService) acquire(ctx context.Context, orderID int64) (string, bool, error) {
	if s.inflight == nil {
		return "", false, nil
	}
	token, err := s.inflight.Acquire(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrPaymentInFlight) {
			return "", false, err
		}
		// the guard is best effort; a Redis outage must not stop payments
		logger.Warn("in-flight guard unavailable, continuing without it", "order_id", orderID, "error", err)
		return "", false, nil
	}
	return token, true, nil
}

func (s *PaymentService) bind(ctx context.Context, orderID int64, token, checkoutRequestID string) bool {
	ok, err := s.inflight.Bind(ctx, orderID, token, checkoutRequestID)
	switch {
	case err != nil:
		logger.Warn("failed to bind in-flight hold, it will expire on its own", "order_id", orderID, "error", err)
	case !ok:
		logger.Warn("in-flight hold expired before the push was accepted", "order_id", orderID)
	}
	return ok && err == nil
}

// initiate runs the push. accepted is called as soon as the gateway hands
// out a checkout request id.
func (s *PaymentService) initiate(ctx context.Context, req model.InitiatePaymentRequest, accepted func(checkoutRequestID string)) (*model.InitiateResult, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		prom.AddPaymentInitiation(outcomeLabel(err))
		return nil, err
	}

	resp, err := s.gateway.STKPush(ctx, token, gateway.PushRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		err = mapGatewayError(err)
		logger.Error("STK push failed", "order_id", req.OrderID, "user_id", req.UserID, "error", err)
		prom.AddPaymentInitiation(outcomeLabel(err))
		return nil, err
	}

	accepted(resp.CheckoutRequestID)

	merchantRequestID := resp.MerchantRequestID
	reference := strconv.FormatInt(req.OrderID, 10)
	txn := &model.Transaction{
		PID:               req.OrderID,
		PartyA:            req.PhoneNumber,
		PartyB:            resp.PartyB,
		AccountReference:  reference,
		Category:          model.CategoryPurchaseOrder,
		Type:              model.TypeCredit,
		Channel:           model.ChannelLNMO,
		Aggregator:        model.AggregatorMpesaKE,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: &merchantRequestID,
		Amount:            req.Amount,
		Timestamp:         resp.Timestamp,
		Details:           "Payment for order " + reference,
		Feedback:          datatypes.JSON(resp.Raw),
		Status:            model.TransactionStatusProcessing,
		UserID:            req.UserID,
	}

	created, err := s.transactionRepo.Create(ctx, txn)
	if err != nil {
		// the payer has been prompted; the callback for this id will be parked
		logger.Error("push accepted but transaction was not recorded",
			"order_id", req.OrderID, "checkout_request_id", resp.CheckoutRequestID, "error", err)
		prom.AddPaymentInitiation("store_error")
		return nil, fmt.Errorf("%w: record transaction: %w", ErrStore, err)
	}

	var gatewayResponse map[string]any
	if err := json.Unmarshal(resp.Raw, &gatewayResponse); err != nil {
		gatewayResponse = map[string]any{}
	}

	logger.Info("Transaction initiated", "order_id", req.OrderID, "user_id", req.UserID,
		"transaction_id", created.ID, "checkout_request_id", created.CheckoutRequestID)

	return &model.InitiateResult{
		TransactionID:     created.ID,
		CheckoutRequestID: created.CheckoutRequestID,
		GatewayResponse:   gatewayResponse,
	}, nil
}

func (s *PaymentService) accessToken(ctx context.Context) (string, error) {
	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		logger.Error("access token request failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if token == "" {
		logger.Error("access token response carried no token")
		return "", ErrGatewayAuthFailed
	}
	return token, nil
}

// HandleCallback settles the transaction a gateway callback refers to. It
// never fails; the outcome is reported in the acknowledgement only.
func (s *PaymentService) HandleCallback(ctx context.Context, raw []byte) model.CallbackAck {
	cb, err := s.applyCallback(ctx, raw)
	switch {
	case err == nil:
		return model.CallbackAck{Status: model.AckStatusSuccess, Message: ackCallbackProcessed}
	case errors.Is(err, ErrValidation):
		logger.Warn("Rejected malformed callback", "error", err)
		prom.AddPaymentCallback("invalid")
		return model.CallbackAck{Status: model.AckStatusError, Message: ackInvalidPayload}
	case errors.Is(err, ErrTransactionNotFound):
		logger.Warn("Transaction not found for callback", "checkout_request_id", cb.CheckoutRequestID)
		prom.AddPaymentCallback("not_found")
		s.park(ctx, cb.CheckoutRequestID, raw)
		return model.CallbackAck{Status: model.AckStatusError, Message: ackNotFound}
	default:
		logger.Error("Callback processing error", "error", err)
		prom.AddPaymentCallback("failed")
		return model.CallbackAck{Status: model.AckStatusError, Message: ackFailed}
	}
}

// ReplayCallback applies a parked callback. Unlike HandleCallback it reports
// failures so the caller can retry.
func (s *PaymentService) ReplayCallback(ctx context.Context, raw []byte) error {
	_, err := s.applyCallback(ctx, raw)
	return err
}

func (s *PaymentService) park(ctx context.Context, checkoutRequestID string, raw []byte) {
	if s.orphans == nil {
		return
	}
	if err := s.orphans.Park(ctx, checkoutRequestID, raw); err != nil {
		logger.Error("failed to park orphan callback", "checkout_request_id", checkoutRequestID, "error", err)
		return
	}
	logger.Info("Parked orphan callback", "checkout_request_id", checkoutRequestID)
}

func (s *PaymentService) applyCallback(ctx context.Context, raw []byte) (*model.STKCallback, error) {
	cb, err := model.ParseSTKCallback(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	txn, err := s.transactionRepo.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return cb, ErrTransactionNotFound
		}
		return cb, fmt.Errorf("%w: load transaction: %w", ErrStore, err)
	}

	if txn.Status.IsTerminal() {
		logger.Info("Duplicate callback ignored", "transaction_id", txn.ID, "status", string(txn.Status))
		prom.AddPaymentCallback("duplicate")
		return cb, nil
	}

	outcome := model.TransactionOutcome{
		Status:   model.TransactionStatusRejected,
		Feedback: datatypes.JSON(raw),
	}
	if cb.Succeeded() {
		outcome.Status = model.TransactionStatusAccepted
		outcome.Code = cb.ReceiptNumber()
	}

	updated, err := s.transactionRepo.ApplyOutcome(ctx, txn.ID, outcome)
	if err != nil {
		if errors.Is(err, repository.ErrTransitionConflict) {
			logger.Info("Duplicate callback ignored", "transaction_id", txn.ID)
			prom.AddPaymentCallback("duplicate")
			return cb, nil
		}
		return cb, fmt.Errorf("%w: update transaction: %w", ErrStore, err)
	}

	logger.Info("Transaction updated", "transaction_id", updated.ID, "status", string(updated.Status),
		"result_code", int(*cb.ResultCode), "result_desc", cb.ResultDesc)
	prom.AddPaymentCallback(string(updated.Status))

	s.afterSettle(ctx, updated, txn.CheckoutRequestID)
	return cb, nil
}

// afterSettle frees the order's hold if it still belongs to this push, then
// restocks rejected orders when enabled.
func (s *PaymentService) afterSettle(ctx context.Context, txn *model.Transaction, checkoutRequestID string) {
	if s.inflight != nil {
		if err := s.inflight.Release(ctx, txn.PID, checkoutRequestID); err != nil {
			logger.Warn("failed to release in-flight hold", "order_id", txn.PID, "error", err)
		}
	}

	if txn.Status != model.TransactionStatusRejected || s.inventory == nil {
		return
	}
	active, err := s.transactionRepo.CountActiveByOrder(ctx, txn.PID)
	if err != nil {
		logger.Error("restock skipped, could not count attempts", "order_id", txn.PID, "error", err)
		return
	}
	if active > 0 {
		logger.Info("restock skipped, order has other attempts", "order_id", txn.PID, "active", active)
		return
	}
	if err := s.inventory.Restock(ctx, txn.PID); err != nil {
		logger.Error("restock failed", "order_id", txn.PID, "error", err)
		return
	}
	logger.Info("Order restocked after rejected payment", "order_id", txn.PID)
}

// QueryStatus asks the gateway about a transaction the user owns. The ledger
// is not touched.
func (s *PaymentService) QueryStatus(ctx context.Context, checkoutRequestID string, userID int64) (json.RawMessage, error) {
	if checkoutRequestID == "" {
		return nil, fmt.Errorf("%w: checkout request id is required", ErrValidation)
	}

	_, err := s.transactionRepo.GetByCheckoutRequestIDForUser(ctx, checkoutRequestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: load transaction: %w", ErrStore, err)
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.QueryStatus(ctx, token, checkoutRequestID)
	if err != nil {
		err = mapGatewayError(err)
		logger.Error("Transaction query error", "checkout_request_id", checkoutRequestID, "error", err)
		return nil, err
	}
	return resp.Raw, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, userID int64, skip, limit int) ([]*model.Transaction, int64, error) {
	items, total, err := s.transactionRepo.ListByUser(ctx, userID, skip, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list transactions: %w", ErrStore, err)
	}
	return items, total, nil
}

func mapGatewayError(err error) error {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", ErrGatewayRejected, apiErr.Message)
	}
	if errors.Is(err, gateway.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrGatewayRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrGatewayAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrGatewayRejected):
		return "rejected"
	case errors.Is(err, ErrGatewayUnavailable):
		return "unavailable"
	}
	return "error"
}
