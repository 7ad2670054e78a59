package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces cooldown keys.
const DefaultKeyPrefix = "rwaledger:cooldown:"

// OpenRedis connects to Redis and verifies the connection with a ping.
func OpenRedis(addr, password string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return r, nil
}

// Redis is a Store shared by every process pointing at the same server.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps client. An empty prefix uses DefaultKeyPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Get returns the record for key; expiry is enforced by Redis.
func (r *Redis) Get(ctx context.Context, key string) (Record, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read cooldown %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode cooldown %s: %w", key, err)
	}
	return rec, true, nil
}

// Put stores rec under key with ttl. A non-positive ttl never expires.
func (r *Redis) Put(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode cooldown %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cooldown %s: %w", key, err)
	}
	return nil
}
