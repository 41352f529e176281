package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// BlocklistHandler applies a blocklist event published by another instance.
type BlocklistHandler func(ctx context.Context, eventType string, ev BlocklistEvent) error

type EventListener interface {
	Listen(ctx context.Context, handler BlocklistHandler) error
}

type redisEventListener struct {
	logger  *logrus.Logger
	cache   Client
	channel Channel
	origin  string
}

func NewRedisEventListener(logger *logrus.Logger, cache Client, channel Channel, origin string) EventListener {
	return &redisEventListener{
		logger:  logger,
		cache:   cache,
		channel: channel,
		origin:  origin,
	}
}

// Listen consumes the channel until ctx is cancelled, reconnecting after disconnects.
func (r *redisEventListener) Listen(ctx context.Context, handler BlocklistHandler) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("redis pubsub listener shutting down")
			return nil
		default:
		}

		r.listenOnce(ctx, handler)

		if ctx.Err() != nil {
			return nil
		}

		r.logger.Warn("redis pubsub disconnected, reconnecting in 1s...")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (r *redisEventListener) listenOnce(ctx context.Context, handler BlocklistHandler) {
	pubSub := r.cache.RedisClient().Subscribe(ctx, string(r.channel))
	defer func() { _ = pubSub.Close() }()

	r.logger.WithField("channel", r.channel).Debug("redis pubsub connected")

	go func() {
		<-ctx.Done()
		_ = pubSub.Close()
	}()

	for msg := range pubSub.Channel() {
		if ctx.Err() != nil {
			return
		}
		r.handleMessage(ctx, msg.Payload, handler)
	}
}

func (r *redisEventListener) handleMessage(ctx context.Context, payload string, handler BlocklistHandler) {
	var envelope RedisMessage
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		r.logger.WithError(err).Error("error decoding redis message")
		return
	}
	if envelope.Origin == r.origin {
		return
	}
	var ev BlocklistEvent
	if err := json.Unmarshal(envelope.Event, &ev); err != nil {
		r.logger.WithError(err).Error("error unmarshalling blocklist event")
		return
	}
	if err := handler(ctx, envelope.Type, ev); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"type":    envelope.Type,
			"subject": ev.Subject,
		}).Error("error applying blocklist event")
	}
}
