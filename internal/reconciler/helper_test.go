package reconciler

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ericomondi/e-api/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return mr, adapter
}

type MockReplayer struct {
	mock.Mock
}

func (m *MockReplayer) ReplayCallback(ctx context.Context, raw []byte) error {
	return m.Called(ctx, raw).Error(0)
}

func callbackPayload(checkoutRequestID string) []byte {
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"` + checkoutRequestID +
		`","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"QWE123"}]}}}}`)
}
