package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlewis7127/licenceledger/internal/licensing/domain"
)

func TestInMemoryLicenceCache(t *testing.T) {
	cache := NewInMemoryLicenceCache()
	ctx := context.Background()

	_, err := cache.Get(ctx, "frank@example.com")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	// Unstamped licences are ignored.
	require.NoError(t, cache.Set(ctx, &domain.Licence{Email: "frank@example.com"}))
	_, err = cache.Get(ctx, "frank@example.com")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, &domain.Licence{LicenceID: "doc-7", Email: "frank@example.com"}))
	licence, err := cache.Get(ctx, "frank@example.com")
	require.NoError(t, err)
	assert.Equal(t, "doc-7", licence.LicenceID)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient("not a url")
	assert.Error(t, err)
}

func TestRedisLicenceCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	client, err := NewRedisClient(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	cache := NewRedisLicenceCache(client, time.Minute)
	email := "redis-" + time.Now().Format("150405.000000000") + "@example.com"
	t.Cleanup(func() { client.Del(context.Background(), cacheKey(email)) })

	_, err = cache.Get(ctx, email)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, &domain.Licence{LicenceID: "doc-r", Email: email}))
	licence, err := cache.Get(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, "doc-r", licence.LicenceID)
	assert.Equal(t, email, licence.Email)
}
