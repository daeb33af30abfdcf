package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher is the subset of *redis.Client used by RedisChannel.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisChannel publishes events on Redis pub/sub, to <prefix>:<job_id> and <prefix>:all.
type RedisChannel struct {
	client RedisPublisher
	prefix string
	closer func() error
}

// NewRedisChannel connects to the Redis server at addr.
func NewRedisChannel(ctx context.Context, addr, prefix string) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	ch := NewRedisChannelWithClient(client, prefix)
	ch.closer = client.Close
	return ch, nil
}

// NewRedisChannelWithClient wraps an existing client.
func NewRedisChannelWithClient(client RedisPublisher, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = "scenepipe"
	}
	return &RedisChannel{client: client, prefix: prefix}
}

// Publish implements Channel.
func (r *RedisChannel) Publish(ctx context.Context, e Event) error {
	payload, err := e.Payload()
	if err != nil {
		return err
	}
	for _, topic := range []string{r.prefix + ":" + e.JobID, r.prefix + ":all"} {
		if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
			return fmt.Errorf("redis publish to %s: %w", topic, err)
		}
	}
	return nil
}

// Close releases the connection if this channel opened it.
func (r *RedisChannel) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

var _ Channel = (*RedisChannel)(nil)
