package live

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay carries deliveries over a Redis Pub/Sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisRelay publishes and subscribes on channel.
func NewRedisRelay(client *redis.Client, channel string, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

// Publish sends d to every subscribed instance.
func (r *RedisRelay) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe routes channel payloads to handle until ctx ends or the
// subscription is closed.
func (r *RedisRelay) Subscribe(ctx context.Context, handle func(Delivery), ready func()) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ready()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				r.log.Warn("discarding malformed relay payload", zap.Error(err))
				continue
			}
			handle(d)
		}
	}
}

// Close closes the underlying client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
