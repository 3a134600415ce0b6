package cache

import (
	"testing"

	"github.com/rs/zerolog"

	"breakout-failures/internal/config"
)

func TestCandleKey(t *testing.T) {
	key := candleKey("RELIANCE.NS", "5m", "1d")
	want := "candles:RELIANCE.NS:5m:1d"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}

func TestNewCandleCacheDisabledWithoutAddr(t *testing.T) {
	c := NewCandleCache(config.RedisConfig{}, zerolog.Nop())
	if c != nil {
		t.Fatal("cache should be nil when redis addr is empty")
	}

	// A nil cache must be safe to use.
	if _, ok := c.Get(t.Context(), "ACME", "5m", "1d"); ok {
		t.Fatal("nil cache should always miss")
	}
	c.Set(t.Context(), "ACME", "5m", "1d", nil)
	if err := c.Ping(t.Context()); err != nil {
		t.Fatalf("nil cache ping should be a no-op: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil cache close should be a no-op: %v", err)
	}
}
