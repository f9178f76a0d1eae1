package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "agora:throttle:"

var errVersionMismatch = errors.New("version mismatch")

// RedisStore keeps throttle state in Redis so several service replicas share
// one view per session. Keys expire after the configured TTL of inactivity.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, "", ttl), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (State, error) {
	return r.get(ctx, r.client, sessionID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c stringGetter, sessionID string) (State, error) {
	data, err := c.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get throttle state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("unmarshal throttle state: %w", err)
	}
	return st, nil
}

func (r *RedisStore) CompareAndSwap(ctx context.Context, sessionID string, expected int64, next State) (bool, error) {
	key := r.key(sessionID)
	next = next.clone()
	next.Version = expected + 1
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal throttle state: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return errVersionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errVersionMismatch), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("swap throttle state: %w", err)
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
