// Package router fans change events out between instances over redis
// pub/sub. The durable stream is consumed by one instance per group; the
// router echoes each event so every instance's cache and websocket
// sessions stay current.
package router

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/observability"
)

const channel = "matchtalk:events"

type Router struct {
	client     *redis.Client
	instanceID string
}

func New(client *redis.Client, instanceID string) *Router {
	return &Router{client: client, instanceID: instanceID}
}

// Publish echoes a raw event to sibling instances. The instance id
// travels as a prefix so the publisher can skip its own echo.
func (r *Router) Publish(ctx context.Context, payload []byte) error {
	framed := append([]byte(r.instanceID+"|"), payload...)
	return r.client.Publish(ctx, channel, framed).Err()
}

// Subscribe delivers events published by other instances to handler.
// Runs until ctx is cancelled; the redis client reconnects internally.
func (r *Router) Subscribe(ctx context.Context, handler func([]byte)) {
	pubsub := r.client.Subscribe(ctx, channel)

	go func() {
		log := observability.GetLogger(ctx)
		log.Info("router: subscribed", zap.String("channel", channel))
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				log.Info("router: subscription loop stopping: context canceled")
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn("router: pubsub channel closed")
					return
				}
				payload := []byte(msg.Payload)
				sep := -1
				for i, b := range payload {
					if b == '|' {
						sep = i
						break
					}
				}
				if sep < 0 {
					continue
				}
				if string(payload[:sep]) == r.instanceID {
					continue
				}
				handler(payload[sep+1:])
			}
		}
	}()
}
