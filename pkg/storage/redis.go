package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL applies when RedisOptions.TTL is zero.
const DefaultRedisTTL = 24 * time.Hour

const keyPrefix = "lycsurv:fit:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration

	// TLS enables TLS to the server when non-nil.
	TLS *tls.Config
}

// RedisStore shares fitted models between machines through Redis, expiring
// them after a TTL.
type RedisStore struct {
	mu     sync.RWMutex
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if opts.DB < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if opts.TTL < 0 {
		return nil, errors.New("redis ttl must be >= 0")
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultRedisTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		TLSConfig:    opts.TLS,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func redisKey(key string) string { return keyPrefix + key }

func (r *RedisStore) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, redis.ErrClosed
	}
	return r.client, nil
}

// Put stores the snapshot as JSON under lycsurv:fit:<key>.
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if s.Key == "" {
		return ErrEmptyKey
	}
	client, err := r.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := client.Set(ctx, redisKey(s.Key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot in redis: %w", err)
	}
	return nil
}

// Get loads the snapshot stored under key. A missing key is not an error.
func (r *RedisStore) Get(ctx context.Context, key string) (Snapshot, bool, error) {
	if key == "" {
		return Snapshot{}, false, ErrEmptyKey
	}
	client, err := r.conn()
	if err != nil {
		return Snapshot{}, false, err
	}

	data, err := client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close releases the connection pool. It is idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
