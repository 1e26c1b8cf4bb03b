package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
)

var (
	_ domain.LicenceCache = (*RedisLicenceCache)(nil)
	_ domain.LicenceCache = (*InMemoryLicenceCache)(nil)
)

const cacheKeyPrefix = "licenceledger:licence:"

func cacheKey(email string) string {
	return cacheKeyPrefix + email
}

// RedisLicenceCache implements domain.LicenceCache on Redis.
type RedisLicenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLicenceCache creates a Redis-backed cache. A zero ttl stores entries
// without expiration.
func NewRedisLicenceCache(client *redis.Client, ttl time.Duration) *RedisLicenceCache {
	return &RedisLicenceCache{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get returns the cached licence or ErrCacheMiss.
func (c *RedisLicenceCache) Get(ctx context.Context, email string) (*domain.Licence, error) {
	data, err := c.client.Get(ctx, cacheKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var licence domain.Licence
	if err := json.Unmarshal(data, &licence); err != nil {
		return nil, fmt.Errorf("failed to decode cached licence: %w", err)
	}
	return &licence, nil
}

// Set caches a stamped licence. Unstamped licences are never cached.
func (c *RedisLicenceCache) Set(ctx context.Context, licence *domain.Licence) error {
	if !licence.IsComplete() {
		return nil
	}
	data, err := json.Marshal(licence)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(licence.Email), data, c.ttl).Err()
}

// InMemoryLicenceCache implements domain.LicenceCache in process memory. It is used
// when no Redis URL is configured.
type InMemoryLicenceCache struct {
	mu       sync.RWMutex
	licences map[string]domain.Licence
}

// NewInMemoryLicenceCache creates an empty in-memory cache.
func NewInMemoryLicenceCache() *InMemoryLicenceCache {
	return &InMemoryLicenceCache{licences: make(map[string]domain.Licence)}
}

// Get returns the cached licence or ErrCacheMiss.
func (c *InMemoryLicenceCache) Get(_ context.Context, email string) (*domain.Licence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	licence, ok := c.licences[email]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return &licence, nil
}

// Set caches a stamped licence.
func (c *InMemoryLicenceCache) Set(_ context.Context, licence *domain.Licence) error {
	if !licence.IsComplete() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.licences[licence.Email] = *licence
	return nil
}
