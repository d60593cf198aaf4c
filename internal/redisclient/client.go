package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity, used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ReplayedPaymentID is the fast path for webhook-replay detection: it
// returns the payment id recorded for a provider transaction, or ""
// when none is cached. A miss is not authoritative; the store's
// identity key is.
func (c *Client) ReplayedPaymentID(ctx context.Context, provider, providerPaymentID string) (string, error) {
	id, err := c.rdb.Get(ctx, replayKey(provider, providerPaymentID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// RememberProviderPayment maps a processed provider transaction id to
// the payment it produced.
func (c *Client) RememberProviderPayment(ctx context.Context, provider, providerPaymentID, paymentID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, replayKey(provider, providerPaymentID), paymentID, ttl).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

func replayKey(provider, providerPaymentID string) string {
	return fmt.Sprintf("replay:%s:%s", provider, providerPaymentID)
}
