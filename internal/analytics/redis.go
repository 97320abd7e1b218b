package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher pushes events onto a Redis list. It is the lighter
// deployment option when no Kafka cluster is available.
type RedisPublisher struct {
	client *redis.Client
	key    string
}

func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisPublisher(client *redis.Client, key string) *RedisPublisher {
	if key == "" {
		key = DefaultTopic
	}
	return &RedisPublisher{client: client, key: key}
}

func (p *RedisPublisher) Track(ctx context.Context, event string, payload map[string]any) error {
	data, err := encode(event, payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := p.client.LPush(ctx, p.key, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisSource pops events from the tail of the list, so they are consumed
// in publish order.
type RedisSource struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

func NewRedisSource(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = DefaultTopic
	}
	return &RedisSource{client: client, key: key, wait: 5 * time.Second}
}

// Next blocks until an event is available or ctx is done.
func (s *RedisSource) Next(ctx context.Context) (Event, error) {
	for {
		res, err := s.client.BRPop(ctx, s.wait, s.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return Event{}, err
		}
		e, err := decode([]byte(res[1]))
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return e, nil
	}
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}
