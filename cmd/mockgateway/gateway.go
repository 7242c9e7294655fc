package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	resultSuccess   = 0
	resultCancelled = 1032
)

// STKPushRequest is the body the merchant posts to initiate a push.
type STKPushRequest struct {
	BusinessShortCode string      `json:"BusinessShortCode"`
	Password          string      `json:"Password"`
	Timestamp         string      `json:"Timestamp"`
	TransactionType   string      `json:"TransactionType"`
	Amount            json.Number `json:"Amount"`
	PartyA            string      `json:"PartyA"`
	PartyB            string      `json:"PartyB"`
	PhoneNumber       string      `json:"PhoneNumber"`
	CallBackURL       string      `json:"CallBackURL"`
	AccountReference  string      `json:"AccountReference"`
	TransactionDesc   string      `json:"TransactionDesc"`
}

func (r *STKPushRequest) missing() []string {
	var fields []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			fields = append(fields, name)
		}
	}
	check("BusinessShortCode", r.BusinessShortCode)
	check("Password", r.Password)
	check("Timestamp", r.Timestamp)
	check("TransactionType", r.TransactionType)
	check("Amount", r.Amount.String())
	check("PhoneNumber", r.PhoneNumber)
	check("CallBackURL", r.CallBackURL)
	return fields
}

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type pushRecord struct {
	MerchantRequestID string
	CheckoutRequestID string
	Request           STKPushRequest
	Settled           bool
	ResultCode        int
	ResultDesc        string
}

// MockGateway imitates the STK push API closely enough for local runs.
type MockGateway struct {
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	tokens map[string]time.Time
	pushes map[string]*pushRecord

	callbacks *fasthttp.Client
}

func NewMockGateway(successRate float64, minDelay, maxDelay time.Duration) *MockGateway {
	return &MockGateway{
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		tokens:      make(map[string]time.Time),
		pushes:      make(map[string]*pushRecord),
		callbacks:   &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
	}
}

func (m *MockGateway) issueToken() (string, int) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	ttl := time.Hour
	m.mu.Lock()
	m.tokens[token] = time.Now().Add(ttl)
	m.mu.Unlock()
	return token, int(ttl.Seconds()) - 1
}

func (m *MockGateway) validToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.tokens[token]
	return ok && time.Now().Before(exp)
}

// validBasic reports whether header is "Basic base64(key:secret)" with both
// parts present. Any key is accepted.
func validBasic(header string) bool {
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	key, secret, ok := strings.Cut(string(raw), ":")
	return ok && key != "" && secret != ""
}

func (m *MockGateway) accept(req STKPushRequest) *pushRecord {
	rec := &pushRecord{
		MerchantRequestID: fmt.Sprintf("%d-%d-1", m.intn(90000)+10000, m.intn(9000000)+1000000),
		CheckoutRequestID: "ws_CO_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Request:           req,
	}
	m.mu.Lock()
	m.pushes[rec.CheckoutRequestID] = rec
	m.mu.Unlock()
	return rec
}

func (m *MockGateway) lookup(checkoutRequestID string) (pushRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pushes[checkoutRequestID]
	if !ok {
		return pushRecord{}, false
	}
	return *rec, true
}

// settle decides the outcome of a push and records it.
func (m *MockGateway) settle(checkoutRequestID string) (pushRecord, bool) {
	success := m.float64() < m.successRate

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pushes[checkoutRequestID]
	if !ok {
		return pushRecord{}, false
	}
	rec.Settled = true
	if success {
		rec.ResultCode = resultSuccess
		rec.ResultDesc = "The service request is processed successfully."
	} else {
		rec.ResultCode = resultCancelled
		rec.ResultDesc = "Request cancelled by user"
	}
	return *rec, true
}

func (m *MockGateway) callbackBody(rec pushRecord) ([]byte, error) {
	cb := map[string]any{
		"MerchantRequestID": rec.MerchantRequestID,
		"CheckoutRequestID": rec.CheckoutRequestID,
		"ResultCode":        rec.ResultCode,
		"ResultDesc":        rec.ResultDesc,
	}
	if rec.ResultCode == resultSuccess {
		amount, _ := rec.Request.Amount.Float64()
		phone, _ := json.Number(rec.Request.PhoneNumber).Int64()
		date, _ := json.Number(time.Now().Format("20060102150405")).Int64()
		cb["CallbackMetadata"] = map[string]any{
			"Item": []map[string]any{
				{"Name": "Amount", "Value": amount},
				{"Name": "MpesaReceiptNumber", "Value": m.receipt()},
				{"Name": "TransactionDate", "Value": date},
				{"Name": "PhoneNumber", "Value": phone},
			},
		}
	}
	return json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": cb}})
}

// deliver waits a random delay, settles the push and posts the callback.
func (m *MockGateway) deliver(checkoutRequestID string) {
	time.Sleep(m.randomDelay())

	rec, ok := m.settle(checkoutRequestID)
	if !ok {
		return
	}
	body, err := m.callbackBody(rec)
	if err != nil {
		log.Error().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("Failed to build callback")
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rec.Request.CallBackURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := m.callbacks.Do(req, resp); err != nil {
		log.Warn().Err(err).Str("checkout_request_id", checkoutRequestID).Str("url", rec.Request.CallBackURL).Msg("Callback delivery failed")
		return
	}
	log.Info().
		Str("checkout_request_id", checkoutRequestID).
		Int("result_code", rec.ResultCode).
		Int("status", resp.StatusCode()).
		Msg("Callback delivered")
}

func (m *MockGateway) receipt() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 10)
	m.mu.Lock()
	for i := range b {
		b[i] = alphabet[m.rng.Intn(len(alphabet))]
	}
	m.mu.Unlock()
	return string(b)
}

func (m *MockGateway) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockGateway) float64() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

func (m *MockGateway) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}
