package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache using Redis hashes at
// "price:{instrumentID}" with fields "usd" and "ts" (Unix nanoseconds). Entries
// expire after ttl so a stopped game leaves no stale quotes behind.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(id string) string {
	return "price:" + id
}

// SetPrice stores the latest price and observation time for an instrument.
func (pc *PriceCache) SetPrice(ctx context.Context, id string, price float64, ts time.Time) error {
	key := priceKey(id)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"usd", strconv.FormatFloat(price, 'f', -1, 64),
		"ts", strconv.FormatInt(ts.UnixNano(), 10),
	)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", id, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when no price is cached for id.
func (pc *PriceCache) GetPrice(ctx context.Context, id string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(id)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", id, err)
	}
	price, ts, ok := parsePriceHash(vals)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", id, domain.ErrNotFound)
	}
	return price, ts, nil
}

// GetPrices pipelines lookups for ids. Missing or unparsable entries are
// omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	out := make(map[string]float64, len(ids))
	for id, cmd := range cmds {
		if price, _, ok := parsePriceHash(cmd.Val()); ok {
			out[id] = price
		}
	}
	return out, nil
}

func parsePriceHash(vals map[string]string) (float64, time.Time, bool) {
	p, err := strconv.ParseFloat(vals["usd"], 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	ns, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return p, time.Unix(0, ns), true
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
