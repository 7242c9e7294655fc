package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/ericomondi/e-api/internal/model"
	"github.com/ericomondi/e-api/internal/services"
	xhttp "github.com/ericomondi/e-api/pkg/http"
	"github.com/fasthttp/router"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	Initiate(ctx context.Context, req model.InitiatePaymentRequest) (*model.InitiateResult, error)
	HandleCallback(ctx context.Context, raw []byte) model.CallbackAck
	QueryStatus(ctx context.Context, checkoutRequestID string, userID int64) (json.RawMessage, error)
	ListTransactions(ctx context.Context, userID int64, skip, limit int) ([]*model.Transaction, int64, error)
}

const (
	PaymentPrefix = "/lnmo"
	CallbackPath  = PaymentPrefix + "/callback"
)

type PaymentHandler struct {
	svc PaymentService
}

// RegisterPaymentRoutes mounts the payment endpoints. The callback is left
// outside auth since the gateway cannot present a user token.
func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler, auth xhttp.MiddlewareFunc) {
	e.POST("/transact", auth(h.Transact))
	e.POST("/query", auth(h.Query))
	e.GET("/transactions", auth(h.ListTransactions))
	e.POST("/callback", h.Callback)
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{
		svc: svc,
	}
}

type transactRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phoneNumber"`
	OrderID     int64           `json:"orderId"`
}

type queryRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (h *PaymentHandler) Transact(ctx *xhttp.RequestCtx) {
	userID, ok := UserID(ctx)
	if !ok {
		writeError(ctx, xhttp.StatusUnauthorized, "unauthorized")
		return
	}

	var req transactRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, err := h.svc.Initiate(ctx, model.InitiatePaymentRequest{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
		UserID:      userID,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, apiResponse{
		Status:  model.AckStatusSuccess,
		Message: "Transaction initiated successfully",
		Data:    result,
	})
}

func (h *PaymentHandler) Query(ctx *xhttp.RequestCtx) {
	userID, ok := UserID(ctx)
	if !ok {
		writeError(ctx, xhttp.StatusUnauthorized, "unauthorized")
		return
	}

	var req queryRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	raw, err := h.svc.QueryStatus(ctx, req.CheckoutRequestID, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, apiResponse{
		Status:  model.AckStatusSuccess,
		Message: "Transaction status retrieved",
		Data:    raw,
	})
}

// Callback always answers 200; the gateway only needs to know the body
// arrived.
func (h *PaymentHandler) Callback(ctx *xhttp.RequestCtx) {
	raw := append([]byte(nil), ctx.PostBody()...)
	ack := h.svc.HandleCallback(ctx, raw)
	writeJSON(ctx, xhttp.StatusOK, ack)
}

func (h *PaymentHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	userID, ok := UserID(ctx)
	if !ok {
		writeError(ctx, xhttp.StatusUnauthorized, "unauthorized")
		return
	}

	skip, err := queryInt(ctx, "skip", 0)
	if err != nil || skip < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(ctx, "limit", model.DefaultListLimit)
	if err != nil || limit < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	items, total, err := h.svc.ListTransactions(ctx, userID, skip, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	if items == nil {
		items = []*model.Transaction{}
	}

	ctx.Response.Header.Set("X-Total-Count", strconv.FormatInt(total, 10))
	writeJSON(ctx, xhttp.StatusOK, items)
}

func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrTransactionNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrPaymentInFlight),
		errors.Is(err, services.ErrOrderNotPayable):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	case errors.Is(err, services.ErrGatewayAuthFailed),
		errors.Is(err, services.ErrGatewayRejected):
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
	case errors.Is(err, services.ErrGatewayUnavailable):
		writeError(ctx, xhttp.StatusServiceUnavailable, services.ErrGatewayUnavailable.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, "internal error")
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func queryInt(ctx *xhttp.RequestCtx, key string, def int) (int, error) {
	v := ctx.QueryArgs().Peek(key)
	if len(v) == 0 {
		return def, nil
	}
	return strconv.Atoi(string(v))
}
