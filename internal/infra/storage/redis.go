package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"price_watch/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Compile-time checks
var (
	_ domain.KVStore = (*RedisStore)(nil)
	_ domain.Broker  = (*RedisStore)(nil)
	_ domain.KVStore = (*SQLiteStore)(nil)
)

// RedisStore is both the shared key/value store and the pub/sub broker
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient builds a client from connection settings
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Get retrieves a key. redis.Nil maps to found=false.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// MSet writes every pair with a single MSET
func (r *RedisStore) MSet(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return r.client.MSet(ctx, values).Err()
}

// MGet returns values in key order; nil marks a missing key
func (r *RedisStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	result := make([]*string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, val := range vals {
		if s, ok := val.(string); ok {
			result[i] = &s
		}
	}
	return result, nil
}

// Keys lists keys with the given prefix using SCAN
func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Publish sends payload to every subscriber of channel
func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription,
// so a Publish issued afterwards is guaranteed to be delivered.
func (r *RedisStore) Subscribe(ctx context.Context, channel string) (domain.BrokerSubscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

// Receive blocks for the next message. A cancelled ctx closes the subscription,
// since the underlying connection read cannot be interrupted otherwise.
func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, domain.ErrSubscriptionClosed
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.closed.Load() {
			return nil, domain.ErrSubscriptionClosed
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

// Close unsubscribes. Idempotent.
func (s *redisSubscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.ps.Close()
}
