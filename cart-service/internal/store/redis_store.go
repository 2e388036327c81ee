package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps values in Redis and announces every change on a pub/sub
// channel per key, so other processes sharing the key can react.
type RedisStore struct {
	client *redis.Client
	writer string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a store; ttl <= 0 keeps values forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		writer: uuid.New().String(),
		ttl:    ttl,
		logger: logger,
	}
}

type redisEvent struct {
	Writer  string `json:"writer"`
	Value   []byte `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

func (r *RedisStore) Writer() string { return r.writer }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	r.publish(ctx, key, redisEvent{Writer: r.writer, Value: value})
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	r.publish(ctx, key, redisEvent{Writer: r.writer, Removed: true})
	return nil
}

// publish failures are logged only: the value is already durable.
func (r *RedisStore) publish(ctx context.Context, key string, ev redisEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "marshal kv event failed", "key", key, "error", err)
		return
	}
	if err := r.client.Publish(ctx, eventChannel(key), payload).Err(); err != nil {
		r.logger.WarnContext(ctx, "publish kv event failed", "key", key, "error", err)
	}
}

func (r *RedisStore) Watch(ctx context.Context, key string, fn func(Event)) error {
	sub := r.client.Subscribe(ctx, eventChannel(key))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev redisEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.WarnContext(ctx, "malformed kv event", "key", key, "error", err)
				continue
			}
			if ev.Writer == r.writer {
				continue
			}
			out := Event{Key: key, Writer: ev.Writer, Value: ev.Value}
			if ev.Removed {
				out.Value = nil
			}
			fn(out)
		}
	}
}

func eventChannel(key string) string {
	return fmt.Sprintf("kv-events:%s", key)
}
