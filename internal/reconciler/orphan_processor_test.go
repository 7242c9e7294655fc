package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func orphanMessage(checkoutRequestID string) *queue.Message {
	return &queue.Message{
		ID:       "1-0",
		Data:     callbackPayload(checkoutRequestID),
		Metadata: map[string]string{services.OrphanMetaCheckoutRequestID: checkoutRequestID},
	}
}

func TestOrphanProcessor_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("applied callback is marked done", func(t *testing.T) {
		_, adapter := setupTestRedis(t)
		lock := NewReplayLock(adapter, DefaultReplayLockConfig())
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, lock)

		msg := orphanMessage("ws_CO_1")
		replayer.On("ReplayCallback", mock.Anything, msg.Data).Return(nil).Once()

		require.NoError(t, p.Process(ctx, msg))

		replayed, err := lock.IsReplayed(ctx, "ws_CO_1")
		require.NoError(t, err)
		assert.True(t, replayed)

		// a second parked copy is acked without replaying
		require.NoError(t, p.Process(ctx, orphanMessage("ws_CO_1")))
		replayer.AssertNumberOfCalls(t, "ReplayCallback", 1)
		assert.EqualValues(t, 1, p.stats.snapshot()["duplicates"])
	})

	t.Run("missing transaction stays pending", func(t *testing.T) {
		_, adapter := setupTestRedis(t)
		lock := NewReplayLock(adapter, DefaultReplayLockConfig())
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, lock)

		replayer.On("ReplayCallback", mock.Anything, mock.Anything).Return(services.ErrTransactionNotFound)

		err := p.Process(ctx, orphanMessage("ws_CO_2"))
		assert.ErrorIs(t, err, services.ErrTransactionNotFound)
		assert.False(t, errors.Is(err, queue.ErrDrop))

		// lock released for the next attempt
		claim, err := lock.Acquire(ctx, "ws_CO_2")
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx, claim))
	})

	t.Run("invalid payload is dropped", func(t *testing.T) {
		_, adapter := setupTestRedis(t)
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, NewReplayLock(adapter, DefaultReplayLockConfig()))

		replayer.On("ReplayCallback", mock.Anything, mock.Anything).
			Return(fmt.Errorf("%w: missing result code", services.ErrValidation))

		err := p.Process(ctx, orphanMessage("ws_CO_3"))
		assert.ErrorIs(t, err, queue.ErrDrop)
		assert.EqualValues(t, 1, p.stats.snapshot()["dropped"])
	})

	t.Run("unparseable message without metadata is dropped", func(t *testing.T) {
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, nil)

		err := p.Process(ctx, &queue.Message{ID: "1-0", Data: []byte(`not json`)})
		assert.ErrorIs(t, err, queue.ErrDrop)
		replayer.AssertNotCalled(t, "ReplayCallback", mock.Anything, mock.Anything)
	})

	t.Run("checkout id recovered from payload", func(t *testing.T) {
		_, adapter := setupTestRedis(t)
		lock := NewReplayLock(adapter, DefaultReplayLockConfig())
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, lock)

		replayer.On("ReplayCallback", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, p.Process(ctx, &queue.Message{ID: "1-0", Data: callbackPayload("ws_CO_4")}))
		replayed, err := lock.IsReplayed(ctx, "ws_CO_4")
		require.NoError(t, err)
		assert.True(t, replayed)
	})

	t.Run("store failure is retried", func(t *testing.T) {
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, nil)

		replayer.On("ReplayCallback", mock.Anything, mock.Anything).
			Return(fmt.Errorf("%w: connection reset", services.ErrStore))

		err := p.Process(ctx, orphanMessage("ws_CO_5"))
		assert.ErrorIs(t, err, services.ErrStore)
		assert.EqualValues(t, 1, p.stats.snapshot()["retried"])
	})

	t.Run("held lock is retried", func(t *testing.T) {
		_, adapter := setupTestRedis(t)
		lock := NewReplayLock(adapter, DefaultReplayLockConfig())
		replayer := new(MockReplayer)
		p := NewOrphanProcessor(replayer, lock)

		other, err := lock.Acquire(ctx, "ws_CO_6")
		require.NoError(t, err)
		defer lock.Release(ctx, other)

		err = p.Process(ctx, orphanMessage("ws_CO_6"))
		assert.ErrorIs(t, err, ErrLockHeld)
		replayer.AssertNotCalled(t, "ReplayCallback", mock.Anything, mock.Anything)
	})
}
