package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces result keys: "sensorboard:result:{session}".
const keyPrefix = "sensorboard:result:"

// RedisStore implements Store on Redis so that every dashboard replica sees
// the same session results. Results expire after the configured TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to Redis and verifies the connection.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: result expiration (0 uses the default of 30 minutes)
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

func resultKey(session string) string {
	return keyPrefix + session
}

// Put stores the record with TTL-based expiration.
func (r *RedisStore) Put(ctx context.Context, record Record) error {
	if err := ValidateSession(record.Session); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := r.client.Set(ctx, resultKey(record.Session), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result in redis: %w", err)
	}

	return nil
}

// GetLatest returns the stored result of a session. A missing key is
// reported as found == false with a nil error.
func (r *RedisStore) GetLatest(ctx context.Context, session string) (Record, bool, error) {
	if err := ValidateSession(session); err != nil {
		return Record{}, false, err
	}

	data, err := r.client.Get(ctx, resultKey(session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to get result from redis: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return record, true, nil
}

// Delete removes the result of a session.
func (r *RedisStore) Delete(ctx context.Context, session string) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	if err := r.client.Del(ctx, resultKey(session)).Err(); err != nil {
		return fmt.Errorf("failed to delete result from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times.
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

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
