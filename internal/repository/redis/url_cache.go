package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atbmarket/account-service/internal/core/port"
)

// URLCache memoizes presigned object URLs in Redis so profile reads do not
// re-sign every avatar key.
type URLCache struct {
	client *redis.Client
	prefix string
}

// NewURLCache constructs a Redis-backed presigned-URL cache.
func NewURLCache(client *redis.Client, prefix string) *URLCache {
	if prefix == "" {
		prefix = "account:image_url"
	}
	return &URLCache{client: client, prefix: prefix}
}

func (c *URLCache) key(objectKey string) string {
	return fmt.Sprintf("%s:%s", c.prefix, objectKey)
}

// Get returns the cached URL for an object key, if present.
func (c *URLCache) Get(ctx context.Context, objectKey string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(objectKey)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get cached url: %w", err)
	}
	return val, true, nil
}

// Set stores a URL under the object key with the given TTL.
func (c *URLCache) Set(ctx context.Context, objectKey, url string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if err := c.client.Set(ctx, c.key(objectKey), url, ttl).Err(); err != nil {
		return fmt.Errorf("set cached url: %w", err)
	}
	return nil
}

// Invalidate drops cached URLs for the given object keys.
func (c *URLCache) Invalidate(ctx context.Context, objectKeys ...string) error {
	if len(objectKeys) == 0 {
		return nil
	}

	keys := make([]string, 0, len(objectKeys))
	for _, objectKey := range objectKeys {
		keys = append(keys, c.key(objectKey))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cached urls: %w", err)
	}
	return nil
}

var _ port.URLCache = (*URLCache)(nil)
