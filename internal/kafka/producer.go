package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer wraps a kafka.Writer for publishing change events.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish sends one event keyed by the aggregate id so deltas for a
// conversation land on one partition and keep their relative order.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
