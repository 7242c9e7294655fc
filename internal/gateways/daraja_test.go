package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type fakeDaraja struct {
	tokenCalls atomic.Int32
	tokenFails int32
	token      string

	pushStatus int
	pushBody   string
	lastPush   map[string]string
	lastQuery  map[string]string
	lastAuth   string
}

func (f *fakeDaraja) handle(ctx *fasthttp.RequestCtx) {
	f.lastAuth = string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
	ctx.SetContentType("application/json")

	switch string(ctx.Path()) {
	case "/oauth/v1/generate":
		n := f.tokenCalls.Add(1)
		if n <= f.tokenFails {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		if f.token == "" {
			ctx.SetBodyString(`{"expires_in":"3599"}`)
			return
		}
		ctx.SetBodyString(`{"access_token":"` + f.token + `","expires_in":"3599"}`)
	case "/mpesa/stkpush/v1/processrequest":
		f.lastPush = map[string]string{}
		_ = json.Unmarshal(ctx.PostBody(), &f.lastPush)
		ctx.SetStatusCode(f.pushStatus)
		ctx.SetBodyString(f.pushBody)
	case "/mpesa/stkpushquery/v1/query":
		f.lastQuery = map[string]string{}
		_ = json.Unmarshal(ctx.PostBody(), &f.lastQuery)
		ctx.SetBodyString(`{"ResponseCode":"0","CheckoutRequestID":"ws_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func testConfig() *Config {
	return &Config{
		ConsumerKey:     "key",
		ConsumerSecret:  "secret",
		BaseURL:         "http://daraja.test",
		PassKey:         "passkey",
		ShortCode:       "174379",
		CallbackURL:     "https://shop.test/callback",
		Timeout:         2 * time.Second,
		TokenRetries:    2,
		TokenRetryDelay: time.Millisecond,
	}
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: f.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	hc := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
	c, err := NewClientWithHTTP(testConfig(), hc)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC) }
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.PassKey = ""
	_, err = NewClient(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.BaseURL = ""
	cfg.Environment = "sandbox"
	cfg.Host = "safaricom.co.ke"
	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", c.baseURL)
}

func TestTimestampAndPassword(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 1, 21, 30, 15, 0, time.UTC))
	// EAT is three hours ahead, crossing midnight
	assert.Equal(t, "20240302003015", ts)

	c := &Client{config: testConfig()}
	want := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + ts))
	assert.Equal(t, want, c.Password(ts))
}

func TestAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("sends basic credentials", func(t *testing.T) {
		f := &fakeDaraja{token: "tok"}
		c := newTestClient(t, f)

		token, err := c.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")), f.lastAuth)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		f := &fakeDaraja{token: "tok", tokenFails: 2}
		c := newTestClient(t, f)

		token, err := c.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
		assert.Equal(t, int32(3), f.tokenCalls.Load())
	})

	t.Run("gives up after retries", func(t *testing.T) {
		f := &fakeDaraja{token: "tok", tokenFails: 10}
		c := newTestClient(t, f)

		_, err := c.AccessToken(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, int32(3), f.tokenCalls.Load())
	})

	t.Run("missing token is empty not error", func(t *testing.T) {
		f := &fakeDaraja{}
		c := newTestClient(t, f)

		token, err := c.AccessToken(ctx)
		require.NoError(t, err)
		assert.Empty(t, token)
	})
}

func TestSTKPush(t *testing.T) {
	ctx := context.Background()

	t.Run("builds the wire request", func(t *testing.T) {
		f := &fakeDaraja{
			pushStatus: fasthttp.StatusOK,
			pushBody:   `{"MerchantRequestID":"m_1","CheckoutRequestID":"ws_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success"}`,
		}
		c := newTestClient(t, f)

		resp, err := c.STKPush(ctx, "tok", PushRequest{
			OrderID:     42,
			Amount:      decimal.RequireFromString("100.75"),
			PhoneNumber: "254712345678",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_1", resp.CheckoutRequestID)
		assert.Equal(t, "m_1", resp.MerchantRequestID)
		assert.JSONEq(t, f.pushBody, string(resp.Raw))
		assert.Equal(t, "174379", resp.PartyB)

		assert.Equal(t, "Bearer tok", f.lastAuth)
		assert.Equal(t, "174379", f.lastPush["BusinessShortCode"])
		assert.Equal(t, "20240301123015", f.lastPush["Timestamp"])
		assert.Equal(t, c.Password("20240301123015"), f.lastPush["Password"])
		assert.Equal(t, "CustomerPayBillOnline", f.lastPush["TransactionType"])
		assert.Equal(t, "100", f.lastPush["Amount"])
		assert.Equal(t, "254712345678", f.lastPush["PartyA"])
		assert.Equal(t, "174379", f.lastPush["PartyB"])
		assert.Equal(t, "254712345678", f.lastPush["PhoneNumber"])
		assert.Equal(t, "https://shop.test/callback", f.lastPush["CallBackURL"])
		assert.Equal(t, "42", f.lastPush["AccountReference"])
		assert.Equal(t, "Payment for order 42", f.lastPush["TransactionDesc"])
	})

	t.Run("explicit error payload is a rejection", func(t *testing.T) {
		f := &fakeDaraja{
			pushStatus: fasthttp.StatusBadRequest,
			pushBody:   `{"requestId":"r_1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`,
		}
		c := newTestClient(t, f)

		_, err := c.STKPush(ctx, "tok", PushRequest{OrderID: 42, Amount: decimal.NewFromInt(1), PhoneNumber: "254700000000"})
		assert.ErrorIs(t, err, ErrRejected)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "400.002.02", apiErr.Code)
		assert.Equal(t, "r_1", apiErr.RequestID)
	})

	t.Run("bare 5xx is unavailable", func(t *testing.T) {
		f := &fakeDaraja{pushStatus: fasthttp.StatusBadGateway}
		c := newTestClient(t, f)

		_, err := c.STKPush(ctx, "tok", PushRequest{OrderID: 42, Amount: decimal.NewFromInt(1), PhoneNumber: "254700000000"})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("transport failure is unavailable", func(t *testing.T) {
		cfg := testConfig()
		hc := &fasthttp.Client{
			Dial: func(addr string) (net.Conn, error) { return nil, errors.New("connection refused") },
		}
		c, err := NewClientWithHTTP(cfg, hc)
		require.NoError(t, err)

		_, err = c.STKPush(ctx, "tok", PushRequest{OrderID: 42, Amount: decimal.NewFromInt(1), PhoneNumber: "254700000000"})
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestQueryStatus(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	resp, err := c.QueryStatus(context.Background(), "tok", "ws_1")
	require.NoError(t, err)
	assert.Equal(t, "1032", resp.ResultCode)
	assert.Contains(t, string(resp.Raw), "Request cancelled by user")

	assert.Equal(t, "ws_1", f.lastQuery["CheckoutRequestID"])
	assert.Equal(t, "174379", f.lastQuery["BusinessShortCode"])
	assert.Equal(t, c.Password(f.lastQuery["Timestamp"]), f.lastQuery["Password"])
}
