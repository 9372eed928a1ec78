package redis

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// unreachable returns a Client pointed at a port nothing listens on, so every
// round trip fails fast.
func unreachable(t *testing.T) *Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromRedis(rdb, "pa:")
}

func TestKey(t *testing.T) {
	c := NewFromRedis(nil, "predictattest:")
	assert.Equal(t, "predictattest:last:8453:0xabc:7", c.key("last", "8453:0xabc:7"))
	assert.Equal(t, "predictattest:attestation.built", c.key("attestation.built"))

	bare := NewFromRedis(nil, "")
	assert.Equal(t, "lock:k", bare.key("lock", "k"))
}

func TestPredictionCache_NilEncoded(t *testing.T) {
	pc := NewPredictionCache(unreachable(t), time.Minute)
	err := pc.SetLast(context.Background(), "k", nil, time.Now())
	assert.ErrorIs(t, err, domain.ErrDomain)
}

func TestRateLimiter_ZeroLimitNeverAllows(t *testing.T) {
	rl := NewRateLimiter(unreachable(t))
	ok, err := rl.Allow(context.Background(), "api:1.2.3.4", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectionErrorsAreNotSentinels(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	_, _, err := NewPredictionCache(c, time.Minute).GetLast(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound, "an outage must not look like a cache miss")

	err = NewPredictionCache(c, time.Minute).SetLast(ctx, "k", big.NewInt(1), time.Now())
	assert.Error(t, err)

	_, err = NewLockManager(c).Acquire(ctx, "k", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)

	_, err = NewRateLimiter(c).Allow(ctx, "k", 5, time.Minute)
	assert.Error(t, err)

	err = NewSignalBus(c).Publish(ctx, "attestation.built", []byte("{}"))
	assert.Error(t, err)

	assert.Error(t, c.Ping(ctx))
}
