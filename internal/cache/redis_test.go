package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auction/config"
)

func TestDisabledLockerAlwaysAcquires(t *testing.T) {
	locker, err := NewLocker(config.RedisConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := locker.Acquire(ctx, "bootstrap", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	require.NoError(t, locker.Release(ctx, "bootstrap"))
	require.NoError(t, locker.Close())
}

func TestNewLockerFailsWhenRedisUnreachable(t *testing.T) {
	_, err := NewLocker(config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
}

func TestLeaseKey(t *testing.T) {
	assert.Equal(t, "lease:search-bootstrap", LeaseKey("search-bootstrap"))
}
