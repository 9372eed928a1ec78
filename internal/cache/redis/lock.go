package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// releaseLua deletes the lock only while it still carries the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the unlock round trip, which runs on a fresh context
// so cancelled requests still release their locks.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token-checked
// release script. Tokens are random UUIDs.
type LockManager struct {
	c       *Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c, release: redis.NewScript(releaseLua)}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The returned
// unlock function is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.c.rdb, []string{k}, token).Err()
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
