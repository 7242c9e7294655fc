package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericomondi/e-api/pkg/redis"
	"github.com/google/uuid"
)

const inflightKeyPrefix = "payment:inflight:"

// RedisInflightGuard holds one key per order while a push waits for its
// callback. The key expires on its own if the callback never arrives.
// Once the push is accepted the hold is rebound to the checkout request id,
// so only the callback for that push can release it.
type RedisInflightGuard struct {
	adapter redis.RedisAdapter
	ttl     time.Duration
}

func NewInflightGuard(adapter redis.RedisAdapter, ttl time.Duration) (*RedisInflightGuard, error) {
	if adapter == nil {
		return nil, errors.New("redis adapter is required")
	}
	if ttl <= 0 {
		return nil, errors.New("in-flight ttl must be positive")
	}
	return &RedisInflightGuard{adapter: adapter, ttl: ttl}, nil
}

func inflightKey(orderID int64) string {
	return fmt.Sprintf("%s%d", inflightKeyPrefix, orderID)
}

func (g *RedisInflightGuard) Acquire(ctx context.Context, orderID int64) (string, error) {
	token := uuid.NewString()
	ok, err := g.adapter.SetNX(ctx, inflightKey(orderID), []byte(token), g.ttl)
	if err != nil {
		return "", fmt.Errorf("acquire in-flight hold: %w", err)
	}
	if !ok {
		return "", ErrPaymentInFlight
	}
	return token, nil
}

// Bind swaps the hold's token for the checkout request id of the accepted
// push. It reports false when the hold is no longer ours.
func (g *RedisInflightGuard) Bind(ctx context.Context, orderID int64, token, checkoutRequestID string) (bool, error) {
	ok, err := g.adapter.SwapIfEqual(ctx, inflightKey(orderID), []byte(token), []byte(checkoutRequestID))
	if err != nil {
		return false, fmt.Errorf("bind in-flight hold: %w", err)
	}
	return ok, nil
}

// Release drops the hold only while it still carries token.
func (g *RedisInflightGuard) Release(ctx context.Context, orderID int64, token string) error {
	if token == "" {
		return nil
	}
	_, err := g.adapter.DelIfEqual(ctx, inflightKey(orderID), []byte(token))
	return err
}
