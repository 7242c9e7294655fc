package services

import (
	"context"
	"time"

	"github.com/ericomondi/e-api/internal/queue"
)

const (
	OrphanMetaCheckoutRequestID = "checkout_request_id"
	OrphanMetaParkedAt          = "parked_at"
)

// OrphanQueue parks callbacks on a Redis stream for the reconciler.
type OrphanQueue struct {
	queue *queue.Queue
}

func NewOrphanQueue(q *queue.Queue) *OrphanQueue {
	return &OrphanQueue{queue: q}
}

func (o *OrphanQueue) Park(ctx context.Context, checkoutRequestID string, raw []byte) error {
	_, err := o.queue.Publish(ctx, raw, map[string]string{
		OrphanMetaCheckoutRequestID: checkoutRequestID,
		OrphanMetaParkedAt:          time.Now().UTC().Format(time.RFC3339),
	})
	return err
}
