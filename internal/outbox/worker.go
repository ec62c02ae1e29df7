// Package outbox publishes change events recorded transactionally with
// the writes that caused them. Polling keeps publication at-least-once;
// consumers dedup by record id.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/observability"
	"github.com/roomly/matchtalk/internal/repository"
)

type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type Store interface {
	FetchOutbox(ctx context.Context, limit int) ([]repository.OutboxRow, error)
	MarkPublished(ctx context.Context, id int64) error
}

type Worker struct {
	Store     Store
	Producer  Producer
	BatchSize int
	PollDelay time.Duration
	Topic     string
}

// Start runs the polling loop. Blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.BatchSize <= 0 {
		w.BatchSize = 100
	}
	if w.PollDelay <= 0 {
		w.PollDelay = 2 * time.Second
	}

	ticker := time.NewTicker(w.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishBatch(ctx)
		}
	}
}

func (w *Worker) publishBatch(ctx context.Context) {
	log := observability.GetLogger(ctx)

	rows, err := w.Store.FetchOutbox(ctx, w.BatchSize)
	if err != nil {
		log.Error("outbox: fetch failed", zap.Error(err))
		return
	}

	for _, row := range rows {
		// Key by aggregate id so a conversation's deltas stay ordered
		// on one partition.
		if err := w.Producer.Publish(ctx, row.AggregateID, row.Payload); err != nil {
			log.Error("outbox: publish failed",
				zap.Int64("id", row.ID),
				zap.String("aggregate_id", row.AggregateID),
				zap.Error(err),
			)
			observability.OutboxPublishFailuresTotal.WithLabelValues("matchtalk", w.Topic).Inc()
			continue
		}

		if err := w.Store.MarkPublished(ctx, row.ID); err != nil {
			log.Error("outbox: mark published failed", zap.Int64("id", row.ID), zap.Error(err))
		}
	}
}
