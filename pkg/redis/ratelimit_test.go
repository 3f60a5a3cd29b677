package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/pkg/config"
)

func TestNewClient_Disabled(t *testing.T) {
	client, err := New(context.Background(), &config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)

	assert.False(t, client.Enabled())
	assert.Nil(t, client.Redis())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_DisabledAllowsEverything(t *testing.T) {
	client := &Client{enabled: false}
	limiter := NewRateLimiter(client, "merit", SMARDRateLimit)

	for i := 0; i < 3*SMARDRateLimit.Limit; i++ {
		allowed, remaining, err := limiter.Allow(context.Background())
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, SMARDRateLimit.Limit, remaining)
	}

	assert.NoError(t, limiter.Wait(context.Background()))
}

func TestRateLimiter_NilClient(t *testing.T) {
	limiter := NewRateLimiter(nil, "merit", SMARDRateLimit)
	assert.NoError(t, limiter.Wait(context.Background()))
}
