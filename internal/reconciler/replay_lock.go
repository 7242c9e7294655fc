package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/redis"
	"github.com/google/uuid"
)

var (
	ErrAlreadyReplayed = errors.New("callback already replayed")
	ErrLockHeld        = errors.New("replay lock held by another consumer")
)

type ReplayLockConfig struct {
	// LockTTL bounds how long a crashed consumer can block a checkout id.
	LockTTL time.Duration

	// DoneTTL is how long a settled checkout id is remembered. Later parked
	// copies of the same callback are acked without touching the store.
	DoneTTL time.Duration

	LockKeyPrefix string
	DoneKeyPrefix string
}

func DefaultReplayLockConfig() ReplayLockConfig {
	return ReplayLockConfig{
		LockTTL:       30 * time.Second,
		DoneTTL:       24 * time.Hour,
		LockKeyPrefix: "reconciler:lock:",
		DoneKeyPrefix: "reconciler:done:",
	}
}

// ReplayLock serialises replays of one checkout request id across
// reconciler instances.
type ReplayLock struct {
	redis  redis.RedisAdapter
	config ReplayLockConfig
}

func NewReplayLock(adapter redis.RedisAdapter, config ReplayLockConfig) *ReplayLock {
	return &ReplayLock{
		redis:  adapter,
		config: config,
	}
}

type Claim struct {
	CheckoutRequestID string
	token             []byte
	held              bool
}

func (l *ReplayLock) Acquire(ctx context.Context, checkoutRequestID string) (*Claim, error) {
	exists, err := l.redis.Exist(ctx, l.config.DoneKeyPrefix+checkoutRequestID)
	if err != nil {
		logger.Warn("failed to check replay marker", "checkout_request_id", checkoutRequestID, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyReplayed
	}

	token := []byte(uuid.NewString())
	acquired, err := l.redis.SetNX(ctx, l.config.LockKeyPrefix+checkoutRequestID, token, l.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire replay lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	logger.Debug("replay lock acquired", "checkout_request_id", checkoutRequestID, "lock_ttl", l.config.LockTTL)
	return &Claim{CheckoutRequestID: checkoutRequestID, token: token, held: true}, nil
}

// MarkDone records the checkout id as settled and frees the lock.
func (l *ReplayLock) MarkDone(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	if err := l.redis.Set(ctx, l.config.DoneKeyPrefix+c.CheckoutRequestID, []byte("1"), l.config.DoneTTL); err != nil {
		return fmt.Errorf("mark replayed: %w", err)
	}
	return l.Release(ctx, c)
}

// Release frees the lock if this claim still owns it.
func (l *ReplayLock) Release(ctx context.Context, c *Claim) error {
	if c == nil || !c.held {
		return nil
	}
	if _, err := l.redis.DelIfEqual(ctx, l.config.LockKeyPrefix+c.CheckoutRequestID, c.token); err != nil {
		logger.Warn("failed to release replay lock", "checkout_request_id", c.CheckoutRequestID, "error", err)
		return err
	}
	c.held = false
	return nil
}

func (l *ReplayLock) IsReplayed(ctx context.Context, checkoutRequestID string) (bool, error) {
	exists, err := l.redis.Exist(ctx, l.config.DoneKeyPrefix+checkoutRequestID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
