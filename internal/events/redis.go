package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/catalog-metamodel/internal/errors"
)

// RedisPublisher publishes notifications as JSON on a Redis channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, event InstanceSaved) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal instance saved event")
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", p.channel)
	}
	return nil
}

// RedisSubscriber feeds notifications from a Redis channel into a handler.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	handler Handler
}

func NewRedisSubscriber(client *redis.Client, channel string, handler Handler) *RedisSubscriber {
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		handler: handler,
	}
}

// Run blocks until ctx is cancelled. ready, when non-nil, is closed once
// the subscription is confirmed. Malformed messages and handler failures
// are logged and skipped.
func (s *RedisSubscriber) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribe to %s", s.channel)
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event InstanceSaved
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logrus.WithError(err).WithField("channel", msg.Channel).Warn("Dropping malformed instance saved event")
				continue
			}
			if err := s.handler(ctx, event); err != nil {
				logrus.WithError(err).WithField("instance_id", event.InstanceID).Error("Failed to handle instance saved event")
			}
		}
	}
}
