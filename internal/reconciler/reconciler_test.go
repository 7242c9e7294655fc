package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestService_ReplaysParkedCallbacks(t *testing.T) {
	_, adapter := setupTestRedis(t)
	ctx := context.Background()

	qc := queue.QueueConfig{
		Name:              "callbacks:orphan",
		ConsumerGroup:     "reconciler",
		ConsumerName:      "test",
		MaxRetries:        3,
		VisibilityTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
		EnableDLQ:         true,
	}

	// parking side, as the API does it
	parkQueue, err := queue.NewQueue(ctx, adapter, qc)
	require.NoError(t, err)
	parker := services.NewOrphanQueue(parkQueue)
	require.NoError(t, parker.Park(ctx, "ws_CO_1", callbackPayload("ws_CO_1")))
	require.NoError(t, parker.Park(ctx, "ws_CO_2", callbackPayload("ws_CO_2")))

	replayer := new(MockReplayer)
	replayed := make(chan string, 2)
	replayer.On("ReplayCallback", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { replayed <- string(args.Get(1).([]byte)) }).
		Return(nil)

	svc := NewService(adapter, NewOrphanProcessor(replayer, NewReplayLock(adapter, DefaultReplayLockConfig())), Config{
		Queue:     qc,
		Consumers: 2,
		Workers:   2,
	})
	require.NoError(t, svc.Start())
	defer svc.Stop()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case raw := <-replayed:
			got[raw] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for replay")
		}
	}
	assert.True(t, got[string(callbackPayload("ws_CO_1"))])
	assert.True(t, got[string(callbackPayload("ws_CO_2"))])

	assert.Eventually(t, func() bool {
		stats, err := parkQueue.GetStats(ctx)
		return err == nil && stats.PendingMessages == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestService_Defaults(t *testing.T) {
	_, adapter := setupTestRedis(t)
	svc := NewService(adapter, NewOrphanProcessor(new(MockReplayer), nil), Config{})

	assert.Equal(t, 1, svc.config.Consumers)
	assert.Equal(t, 1, svc.pool.Size())
}
