package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each scrip's last traded price is stored as a hash at key "ltp:{scripCode}"
// with fields "price" and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

var _ domain.PriceCache = (*PriceCache)(nil)

func ltpKey(scripCode int) string {
	return "ltp:" + strconv.Itoa(scripCode)
}

// SetLTP stores the latest traded price and tick timestamp for a scrip.
func (pc *PriceCache) SetLTP(ctx context.Context, scripCode int, ltp float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(ltp, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, ltpKey(scripCode), fields).Err(); err != nil {
		return fmt.Errorf("redis: set ltp %d: %w", scripCode, err)
	}
	return nil
}

// GetLTP retrieves the latest traded price and its timestamp for a scrip.
// It returns domain.ErrNotFound when no tick has been cached yet.
func (pc *PriceCache) GetLTP(ctx context.Context, scripCode int) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, ltpKey(scripCode)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get ltp %d: %w", scripCode, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ltp %d: %w", scripCode, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ltp ts %d: %w", scripCode, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// RemoveLTP deletes the cached price for a scrip. Called when the last
// subscriber for a scrip goes away.
func (pc *PriceCache) RemoveLTP(ctx context.Context, scripCode int) error {
	if err := pc.rdb.Del(ctx, ltpKey(scripCode)).Err(); err != nil {
		return fmt.Errorf("redis: remove ltp %d: %w", scripCode, err)
	}
	return nil
}
