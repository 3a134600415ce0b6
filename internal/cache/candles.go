package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"breakout-failures/internal/config"
	"breakout-failures/internal/fetcher"
)

const candleKeyPrefix = "candles:"

// CandleCache keeps fetched OHLCV series in Redis so repeated scans of the
// same symbol within the TTL avoid another provider round trip.
type CandleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCandleCache builds a cache from redis settings. Returns nil when no
// address is configured, which disables caching entirely.
func NewCandleCache(cfg config.RedisConfig, logger zerolog.Logger) *CandleCache {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &CandleCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "candle_cache").Logger(),
	}
}

// Close releases the redis connection.
func (c *CandleCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping verifies redis connectivity.
func (c *CandleCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func candleKey(symbol, interval, candleRange string) string {
	return fmt.Sprintf("%s%s:%s:%s", candleKeyPrefix, symbol, interval, candleRange)
}

// Get returns the cached series for a symbol, or ok=false on a miss.
func (c *CandleCache) Get(ctx context.Context, symbol, interval, candleRange string) ([]fetcher.Candle, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, candleKey(symbol, interval, candleRange)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache read failed")
		}
		return nil, false
	}

	var candles []fetcher.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache payload corrupt")
		return nil, false
	}
	return candles, true
}

// Set stores a series with the configured TTL. Failures are logged, not
// surfaced; the cache is advisory.
func (c *CandleCache) Set(ctx context.Context, symbol, interval, candleRange string, candles []fetcher.Candle) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(candles)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, candleKey(symbol, interval, candleRange), raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle cache write failed")
	}
}
