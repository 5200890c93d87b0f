package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pool's
// spot price lives at "spot:{pool}" with fields "spot" (decimal WAD) and
// "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries until they are overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func spotKey(pool common.Address) string {
	return "spot:" + strings.ToLower(pool.Hex())
}

// SetSpot stores the latest spot price of a pool.
func (pc *PriceCache) SetSpot(ctx context.Context, pool common.Address, spot *uint256.Int, ts time.Time) error {
	key := spotKey(pool)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"spot": spot.Dec(),
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set spot %s: %w", pool.Hex(), err)
	}
	return nil
}

// GetSpot returns the cached spot price of a pool and when it was recorded.
// It returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetSpot(ctx context.Context, pool common.Address) (*uint256.Int, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, spotKey(pool)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get spot %s: %w", pool.Hex(), err)
	}
	spot, ts, err := parseSpot(vals)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get spot %s: %w", pool.Hex(), err)
	}
	return spot, ts, nil
}

// GetSpots fetches several spot prices in one pipeline. Pools without a
// cached price are omitted from the result.
func (pc *PriceCache) GetSpots(ctx context.Context, pools []common.Address) (map[common.Address]*uint256.Int, error) {
	result := make(map[common.Address]*uint256.Int, len(pools))
	if len(pools) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[common.Address]*redis.MapStringStringCmd, len(pools))
	for _, p := range pools {
		cmds[p] = pipe.HGetAll(ctx, spotKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get spots pipeline: %w", err)
	}

	for p, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		spot, _, err := parseSpot(vals)
		if err != nil {
			continue
		}
		result[p] = spot
	}
	return result, nil
}

func parseSpot(vals map[string]string) (*uint256.Int, time.Time, error) {
	spotStr, ok := vals["spot"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	spot, err := uint256.FromDecimal(spotStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse spot %q: %w", spotStr, err)
	}
	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("parse ts %q: %w", tsStr, err)
		}
		ts = time.Unix(0, nanos).UTC()
	}
	return spot, ts, nil
}
