package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

//go:generate mockery --name=EventPublisher --dir=. --output=./mocks --filename=event_publisher_mock.go --case=underscore --with-expecter
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, ev BlocklistEvent) error
}

type redisEventPublisher struct {
	cache   Client
	channel Channel
	origin  string
}

func NewRedisEventPublisher(cache Client, channel Channel, origin string) EventPublisher {
	return &redisEventPublisher{
		cache:   cache,
		channel: channel,
		origin:  origin,
	}
}

func (p *redisEventPublisher) Publish(ctx context.Context, eventType string, ev BlocklistEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	envelope := RedisMessage{
		Type:   eventType,
		Origin: p.origin,
		Event:  b,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	if err := p.cache.RedisClient().Publish(ctx, string(p.channel), data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return nil
}
