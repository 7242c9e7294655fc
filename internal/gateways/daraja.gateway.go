package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/prom"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
)

var (
	ErrUnavailable = errors.New("payment gateway unavailable")
	ErrRejected    = errors.New("payment gateway rejected the request")
)

const (
	pathToken = "/oauth/v1/generate?grant_type=client_credentials"
	pathPush  = "/mpesa/stkpush/v1/processrequest"
	pathQuery = "/mpesa/stkpushquery/v1/query"

	transactionTypePayBill = "CustomerPayBillOnline"
	timestampLayout        = "20060102150405"
)

// eat is East Africa Time; the gateway validates timestamps in it.
var eat = time.FixedZone("EAT", 3*60*60)

// APIError is an explicit error payload returned by the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrRejected
}

type Config struct {
	ConsumerKey     string
	ConsumerSecret  string
	Environment     string
	Host            string
	BaseURL         string
	PassKey         string
	ShortCode       string
	CallbackURL     string
	Timeout         time.Duration
	TokenRetries    int
	TokenRetryDelay time.Duration
	MaxConns        int
}

func (c *Config) validate() error {
	switch {
	case c.ConsumerKey == "" || c.ConsumerSecret == "":
		return errors.New("consumer key and secret are required")
	case c.PassKey == "":
		return errors.New("pass key is required")
	case c.ShortCode == "":
		return errors.New("short code is required")
	case c.CallbackURL == "":
		return errors.New("callback url is required")
	case c.BaseURL == "" && (c.Environment == "" || c.Host == ""):
		return errors.New("either base url or environment and host are required")
	}
	return nil
}

func (c *Config) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.%s", c.Environment, c.Host)
}

// PushRequest is one STK push for an order.
type PushRequest struct {
	OrderID     int64
	Amount      decimal.Decimal
	PhoneNumber string
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type queryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type errorPayload struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	// Raw is the body exactly as the gateway sent it.
	Raw json.RawMessage `json:"-"`
	// Timestamp is the one sent with the request.
	Timestamp time.Time `json:"-"`
	// PartyB is the short code the payment was addressed to.
	PartyB string `json:"-"`
}

type QueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`

	Raw json.RawMessage `json:"-"`
}

type Client struct {
	config  *Config
	client  *fasthttp.Client
	baseURL string
	now     func() time.Time
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	httpClient := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
	}
	return NewClientWithHTTP(config, httpClient)
}

func NewClientWithHTTP(config *Config, httpClient *fasthttp.Client) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.TokenRetries < 0 {
		config.TokenRetries = 0
	}

	c := &Client{
		config:  config,
		client:  httpClient,
		baseURL: config.baseURL(),
		now:     time.Now,
	}
	logger.Info("Payment gateway client initialized", "base_url", c.baseURL, "short_code", config.ShortCode, "timeout", config.Timeout)
	return c, nil
}

// Timestamp formats t the way the gateway expects it.
func Timestamp(t time.Time) string {
	return t.In(eat).Format(timestampLayout)
}

// Password derives the request password for the given timestamp.
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.config.ShortCode + c.config.PassKey + timestamp))
}

// AccessToken exchanges the consumer credentials for a bearer token. It is
// the only call that is retried. A response without a token yields "".
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))

	var lastErr error
	for attempt := 0; attempt <= c.config.TokenRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.TokenRetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}

		start := time.Now()
		status, body, err := c.doRequest(ctx, fasthttp.MethodGet, pathToken, "Basic "+credentials, nil)
		if err != nil {
			c.observe("token", "unavailable", start)
			logger.Warn("Token request failed, retrying", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}
		if status < 200 || status > 299 {
			c.observe("token", "unavailable", start)
			logger.Warn("Token request returned non-2xx", "status", status, "attempt", attempt+1)
			lastErr = fmt.Errorf("unexpected status code: %d", status)
			continue
		}
		c.observe("token", "ok", start)

		var resp struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			logger.Warn("Token response is not json", "error", err)
			return "", nil
		}
		return resp.AccessToken, nil
	}

	return "", fmt.Errorf("%w: token request failed after %d attempts: %v", ErrUnavailable, c.config.TokenRetries+1, lastErr)
}

// STKPush asks the gateway to prompt the payer. It is never retried since a
// second push may charge the payer twice.
func (c *Client) STKPush(ctx context.Context, token string, req PushRequest) (*PushResponse, error) {
	now := c.now()
	ts := Timestamp(now)

	payload := pushPayload{
		BusinessShortCode: c.config.ShortCode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		TransactionType:   transactionTypePayBill,
		Amount:            strconv.FormatInt(req.Amount.IntPart(), 10),
		PartyA:            req.PhoneNumber,
		PartyB:            c.config.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.config.CallbackURL,
		AccountReference:  strconv.FormatInt(req.OrderID, 10),
		TransactionDesc:   fmt.Sprintf("Payment for order %d", req.OrderID),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	status, body, err := c.doRequest(ctx, fasthttp.MethodPost, pathPush, "Bearer "+token, reqBody)
	if err != nil {
		c.observe("push", "unavailable", start)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if apiErr := classify(status, body); apiErr != nil {
		c.observe("push", outcomeOf(apiErr), start)
		return nil, apiErr
	}

	var resp PushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.observe("push", "rejected", start)
		return nil, &APIError{StatusCode: status, Message: "unreadable push response: " + err.Error()}
	}
	if resp.CheckoutRequestID == "" {
		c.observe("push", "rejected", start)
		return nil, &APIError{StatusCode: status, Code: resp.ResponseCode, Message: "push response carries no checkout request id"}
	}
	c.observe("push", "ok", start)

	resp.Raw = body
	resp.Timestamp = now
	resp.PartyB = c.config.ShortCode

	logger.Info("STK push accepted", "order_id", req.OrderID, "checkout_request_id", resp.CheckoutRequestID, "latency_ms", time.Since(start).Milliseconds())
	return &resp, nil
}

// QueryStatus asks the gateway for the state of a push. The answer is
// advisory; the callback stays authoritative.
func (c *Client) QueryStatus(ctx context.Context, token, checkoutRequestID string) (*QueryResponse, error) {
	ts := Timestamp(c.now())
	reqBody, err := json.Marshal(queryPayload{
		BusinessShortCode: c.config.ShortCode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	status, body, err := c.doRequest(ctx, fasthttp.MethodPost, pathQuery, "Bearer "+token, reqBody)
	if err != nil {
		c.observe("query", "unavailable", start)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if apiErr := classify(status, body); apiErr != nil {
		c.observe("query", outcomeOf(apiErr), start)
		return nil, apiErr
	}
	c.observe("query", "ok", start)

	var resp QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{StatusCode: status, Message: "unreadable query response: " + err.Error()}
	}
	resp.Raw = body
	return &resp, nil
}

// classify turns a gateway answer into an error. An explicit error payload
// or a 4xx is a rejection; a bare 5xx is treated as the gateway being down.
func classify(status int, body []byte) error {
	var ep errorPayload
	_ = json.Unmarshal(body, &ep)

	if ep.ErrorCode != "" || ep.ErrorMessage != "" {
		return &APIError{StatusCode: status, Code: ep.ErrorCode, Message: ep.ErrorMessage, RequestID: ep.RequestID}
	}
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status >= 500:
		return fmt.Errorf("%w: unexpected status code: %d", ErrUnavailable, status)
	default:
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrRejected) {
		return "rejected"
	}
	return "unavailable"
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	prom.AddGatewayRequestDuration(time.Since(start).Seconds(), endpoint, outcome)
}

// doRequest only fails on transport errors; the status is left to callers.
func (c *Client) doRequest(ctx context.Context, method, path, authorization string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAuthorization, authorization)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return resp.StatusCode(), result, nil
}
