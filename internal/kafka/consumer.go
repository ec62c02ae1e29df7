package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/observability"
	"github.com/roomly/matchtalk/internal/retry"
)

type Handler interface {
	Handle(ctx context.Context, record []byte)
}

// Recoverer is notified once the stream is healthy again after failures,
// so the sync bridge can re-fetch snapshots for what it missed.
type Recoverer interface {
	Resync(ctx context.Context)
}

type Consumer struct {
	client    *kgo.Client
	handler   Handler
	recoverer Recoverer
}

func NewConsumer(brokers []string, topic, group string, handler Handler, recoverer Recoverer) (*Consumer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			observability.GetLogger(ctx).Info("kafka partitions revoked")
		}),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			observability.GetLogger(ctx).Info("kafka partitions assigned")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: cl, handler: handler, recoverer: recoverer}, nil
}

// Start runs the poll loop until ctx is cancelled. This is a long-lived
// background task: fetch failures back off without bound (capped), and
// once fetches succeed again the recoverer reconciles a fresh snapshot.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		log := observability.GetLogger(ctx)
		log.Info("kafka consumer started")

		failures := 0
		for {
			select {
			case <-ctx.Done():
				log.Info("kafka consumer loop stopping: context canceled")
				return
			default:
			}

			fetches := c.client.PollFetches(ctx)
			if errs := fetches.Errors(); len(errs) > 0 {
				canceled := false
				for _, ferr := range errs {
					if errors.Is(ferr.Err, context.Canceled) {
						canceled = true
						continue
					}
					log.Error("kafka fetch error",
						zap.String("topic", ferr.Topic),
						zap.Int32("partition", ferr.Partition),
						zap.Error(ferr.Err),
					)
				}
				if canceled {
					return
				}

				delay := retry.Backoff(failures, 500*time.Millisecond, 30*time.Second)
				failures++
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}

			if failures > 0 {
				failures = 0
				log.Info("kafka stream recovered, resyncing snapshots")
				if c.recoverer != nil {
					c.recoverer.Resync(ctx)
				}
			}

			fetches.EachRecord(func(r *kgo.Record) {
				c.handler.Handle(ctx, r.Value)
			})
		}
	}()
}

func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
