package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	gateway *MockGateway
	// async is false in tests so callbacks are not fired.
	async bool
}

func NewHandler(gateway *MockGateway) *Handler {
	return &Handler{gateway: gateway, async: true}
}

func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"requestId":    uuid.NewString(),
		"errorCode":    code,
		"errorMessage": message,
	})
}

func (h *Handler) bearer(c *gin.Context) bool {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || !h.gateway.validToken(token) {
		apiError(c, http.StatusUnauthorized, "404.001.03", "Invalid Access Token")
		return false
	}
	return true
}

func (h *Handler) GenerateToken(c *gin.Context) {
	if c.Query("grant_type") != "client_credentials" {
		apiError(c, http.StatusBadRequest, "400.008.02", "Invalid grant type passed")
		return
	}
	if !validBasic(c.GetHeader("Authorization")) {
		apiError(c, http.StatusBadRequest, "400.008.01", "Invalid Authentication passed")
		return
	}
	token, expiresIn := h.gateway.issueToken()
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   expiresIn,
	})
}

func (h *Handler) ProcessRequest(c *gin.Context) {
	if !h.bearer(c) {
		return
	}

	var req STKPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "400.002.02", "Bad Request - Invalid JSON")
		return
	}
	if missing := req.missing(); len(missing) > 0 {
		apiError(c, http.StatusBadRequest, "400.002.02", "Bad Request - Invalid "+missing[0])
		return
	}

	rec := h.gateway.accept(req)
	log.Info().
		Str("checkout_request_id", rec.CheckoutRequestID).
		Str("phone", req.PhoneNumber).
		Str("amount", req.Amount.String()).
		Str("account", req.AccountReference).
		Msg("STK push accepted")

	if h.async {
		go h.gateway.deliver(rec.CheckoutRequestID)
	}

	c.JSON(http.StatusOK, gin.H{
		"MerchantRequestID":   rec.MerchantRequestID,
		"CheckoutRequestID":   rec.CheckoutRequestID,
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	})
}

func (h *Handler) Query(c *gin.Context) {
	if !h.bearer(c) {
		return
	}

	var req STKQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CheckoutRequestID == "" {
		apiError(c, http.StatusBadRequest, "400.002.02", "Bad Request - Invalid CheckoutRequestID")
		return
	}

	rec, ok := h.gateway.lookup(req.CheckoutRequestID)
	if !ok {
		apiError(c, http.StatusBadRequest, "400.002.02", "Bad Request - Invalid CheckoutRequestID")
		return
	}
	if !rec.Settled {
		apiError(c, http.StatusInternalServerError, "500.001.1001", "The transaction is being processed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ResponseCode":        "0",
		"ResponseDescription": "The service request has been accepted successsfully",
		"MerchantRequestID":   rec.MerchantRequestID,
		"CheckoutRequestID":   rec.CheckoutRequestID,
		"ResultCode":          itoa(rec.ResultCode),
		"ResultDesc":          rec.ResultDesc,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"timestamp":    time.Now(),
		"success_rate": h.gateway.successRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	router.GET("/oauth/v1/generate", handler.GenerateToken)
	router.POST("/mpesa/stkpush/v1/processrequest", handler.ProcessRequest)
	router.POST("/mpesa/stkpushquery/v1/query", handler.Query)
	router.GET("/health", handler.HealthCheck)

	return router
}
