package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/inference"
)

// Redis wraps a Redis client for prediction storage
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis cache connected to addr and verifies the connection.
// If addr is empty, defaults to localhost:6379
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Redis{client: client, ttl: ttl}, nil
}

// Get retrieves a prediction
func (c *Redis) Get(ctx context.Context, key string) (inference.Prediction, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return inference.Prediction{}, false, nil
	}
	if err != nil {
		return inference.Prediction{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var p inference.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return inference.Prediction{}, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return p, true, nil
}

// Set stores a prediction with the configured TTL
func (c *Redis) Set(ctx context.Context, key string, p inference.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Redis) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
