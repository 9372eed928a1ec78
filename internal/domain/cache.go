package domain

import (
	"context"
	"math/big"
	"time"
)

// PredictionCache remembers the last attested encoded price per market key.
type PredictionCache interface {
	SetLast(ctx context.Context, key string, encoded *big.Int, ts time.Time) error
	GetLast(ctx context.Context, key string) (*big.Int, time.Time, error)
	Invalidate(ctx context.Context, key string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for attestation events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
