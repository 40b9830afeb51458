package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient connects to the Redis server at rawURL and checks it with a PING.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// redisPublishing is the part of redis.UniversalClient the publisher needs.
type redisPublishing interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redisPublishing
	channel string
	origin  string
}

func NewRedisPublisher(client redisPublishing, channel, origin string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, origin: origin}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Origin == "" {
		ev.Origin = p.origin
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Type, p.channel, err)
	}
	return nil
}

// Relay forwards events published by other instances on channel to next. It
// blocks until ctx is cancelled.
func Relay(ctx context.Context, client *redis.Client, channel, origin string, next Publisher, logger zerolog.Logger) error {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	logger.Info().Str("channel", channel).Msg("event relay subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			relayMessage(ctx, msg.Payload, origin, next, logger)
		}
	}
}

func relayMessage(ctx context.Context, payload, origin string, next Publisher, logger zerolog.Logger) bool {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.Warn().Err(err).Msg("dropping malformed event")
		return false
	}
	if ev.Origin == origin {
		return false
	}
	if err := next.Publish(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("relay delivery failed")
		return false
	}
	return true
}
