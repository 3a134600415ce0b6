package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar.
type Candle struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// CandleFetcher downloads OHLCV candles for a ticker symbol. It returns the
// candles together with the symbol variant that actually resolved.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol, interval, candleRange string) ([]Candle, string, error)
}
