package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

// PredictionCache implements domain.PredictionCache using Redis hashes.
// Each market's last attested price is stored at "last:{marketKey}" with the
// fields "encoded" (decimal) and "ts" (Unix nanoseconds).
type PredictionCache struct {
	c   *Client
	ttl time.Duration
}

// NewPredictionCache creates a PredictionCache. A zero ttl keeps entries
// until they are invalidated.
func NewPredictionCache(c *Client, ttl time.Duration) *PredictionCache {
	return &PredictionCache{c: c, ttl: ttl}
}

// SetLast records the encoded price most recently attested for a market.
func (pc *PredictionCache) SetLast(ctx context.Context, key string, encoded *big.Int, ts time.Time) error {
	if encoded == nil {
		return fmt.Errorf("redis: set last %s: nil encoded price: %w", key, domain.ErrDomain)
	}
	k := pc.c.key("last", key)

	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]any{
			"encoded": encoded.String(),
			"ts":      strconv.FormatInt(ts.UnixNano(), 10),
		})
		if pc.ttl > 0 {
			pipe.Expire(ctx, k, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set last %s: %w", key, err)
	}
	return nil
}

// GetLast returns the cached encoded price and the time it was recorded.
// It returns domain.ErrNotFound on a miss and domain.ErrDecodeAmbiguous when
// the stored value cannot be parsed.
func (pc *PredictionCache) GetLast(ctx context.Context, key string) (*big.Int, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("last", key)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get last %s: %w", key, err)
	}
	encoded, ts, err := parseLast(vals)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("redis: get last %s: %w", key, err)
	}
	return encoded, ts, nil
}

// parseLast decodes the hash written by SetLast.
func parseLast(vals map[string]string) (*big.Int, time.Time, error) {
	raw, ok := vals["encoded"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}

	encoded, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("encoded %q: %w", raw, domain.ErrDecodeAmbiguous)
	}

	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("ts %q: %w", tsStr, domain.ErrDecodeAmbiguous)
		}
		ts = time.Unix(0, nanos).UTC()
	}
	return encoded, ts, nil
}

// Invalidate drops the cached value for a market.
func (pc *PredictionCache) Invalidate(ctx context.Context, key string) error {
	if err := pc.c.rdb.Del(ctx, pc.c.key("last", key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PredictionCache = (*PredictionCache)(nil)
