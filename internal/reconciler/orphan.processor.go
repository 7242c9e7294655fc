package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericomondi/e-api/internal/model"
	"github.com/ericomondi/e-api/internal/queue"
	"github.com/ericomondi/e-api/internal/services"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/ericomondi/e-api/pkg/prom"
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeNotFound  = "not_found"
	outcomeError     = "error"
)

type Replayer interface {
	ReplayCallback(ctx context.Context, raw []byte) error
}

// OrphanProcessor replays one parked callback. Its return value follows
// queue.MessageHandler: nil acks, queue.ErrDrop discards, anything else
// leaves the entry pending for another attempt.
type OrphanProcessor struct {
	replayer Replayer
	lock     *ReplayLock
	stats    *replayStats
}

func NewOrphanProcessor(replayer Replayer, lock *ReplayLock) *OrphanProcessor {
	return &OrphanProcessor{
		replayer: replayer,
		lock:     lock,
		stats:    newReplayStats(),
	}
}

func (p *OrphanProcessor) Process(ctx context.Context, msg *queue.Message) error {
	checkoutRequestID := msg.Metadata[services.OrphanMetaCheckoutRequestID]
	if checkoutRequestID == "" {
		cb, err := model.ParseSTKCallback(msg.Data)
		if err != nil {
			p.stats.recordDropped()
			prom.AddOrphanReplay(outcomeDropped)
			return fmt.Errorf("%w: %w", queue.ErrDrop, err)
		}
		checkoutRequestID = cb.CheckoutRequestID
	}

	var claim *Claim
	if p.lock != nil {
		c, err := p.lock.Acquire(ctx, checkoutRequestID)
		switch {
		case errors.Is(err, ErrAlreadyReplayed):
			logger.Info("orphan callback already replayed", "checkout_request_id", checkoutRequestID, "id", msg.ID)
			p.stats.recordDuplicate()
			prom.AddOrphanReplay(outcomeDuplicate)
			return nil
		case errors.Is(err, ErrLockHeld):
			p.stats.recordRetry()
			return err
		case err != nil:
			// Redis trouble; the ledger update is conditional so replay anyway.
			logger.Warn("replay lock unavailable", "checkout_request_id", checkoutRequestID, "error", err)
		default:
			claim = c
		}
	}

	start := time.Now()
	err := p.replayer.ReplayCallback(ctx, msg.Data)
	switch {
	case err == nil:
		if markErr := p.lock.MarkDone(ctx, claim); markErr != nil {
			logger.Warn("failed to mark callback replayed", "checkout_request_id", checkoutRequestID, "error", markErr)
		}
		logger.Info("orphan callback replayed",
			"checkout_request_id", checkoutRequestID,
			"id", msg.ID,
			"attempts", msg.Attempts)
		p.stats.recordApplied(time.Since(start))
		prom.AddOrphanReplay(outcomeApplied)
		return nil

	case errors.Is(err, services.ErrValidation):
		_ = p.lock.Release(ctx, claim)
		p.stats.recordDropped()
		prom.AddOrphanReplay(outcomeDropped)
		return fmt.Errorf("%w: %w", queue.ErrDrop, err)

	case errors.Is(err, services.ErrTransactionNotFound):
		_ = p.lock.Release(ctx, claim)
		logger.Info("orphan callback still has no transaction",
			"checkout_request_id", checkoutRequestID,
			"id", msg.ID,
			"attempts", msg.Attempts)
		p.stats.recordRetry()
		prom.AddOrphanReplay(outcomeNotFound)
		return err

	default:
		_ = p.lock.Release(ctx, claim)
		logger.Error("orphan callback replay failed", "checkout_request_id", checkoutRequestID, "id", msg.ID, "error", err)
		p.stats.recordRetry()
		prom.AddOrphanReplay(outcomeError)
		return err
	}
}
