package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const chartPath = "/v8/finance/chart/"

// ErrNoCandles indicates the provider returned an empty series for every
// symbol variant tried.
var ErrNoCandles = errors.New("fetcher: no candle data returned")

// YahooOptions parameterise the Yahoo Finance chart fetcher.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Suffixes are exchange suffixes tried in order after the bare symbol
	// fails, e.g. ".NS" and ".BO" for NSE/BSE listings.
	Suffixes []string
}

// Yahoo fetches OHLCV candles from the Yahoo Finance chart API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a Yahoo candle fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	if len(opts.Suffixes) == 0 {
		opts.Suffixes = []string{"", ".NS", ".BO"}
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "candle_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCandles downloads candles, trying each configured exchange suffix
// until one variant returns data.
func (y *Yahoo) FetchCandles(ctx context.Context, symbol, interval, candleRange string) ([]Candle, string, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, "", errors.New("symbol is required")
	}

	var lastErr error
	for _, suffix := range y.suffixesFor(symbol) {
		variant := symbol + suffix
		candles, err := y.fetchVariant(ctx, variant, interval, candleRange)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			y.logger.Debug().Str("symbol", variant).Err(err).Msg("candle fetch attempt failed")
			lastErr = err
			continue
		}
		if len(candles) == 0 {
			lastErr = ErrNoCandles
			continue
		}
		return candles, variant, nil
	}

	if lastErr == nil {
		lastErr = ErrNoCandles
	}
	return nil, "", fmt.Errorf("fetch candles for %s: %w", symbol, lastErr)
}

// suffixesFor avoids re-appending an exchange suffix the caller already
// included.
func (y *Yahoo) suffixesFor(symbol string) []string {
	for _, suffix := range y.opts.Suffixes {
		if suffix != "" && strings.HasSuffix(symbol, suffix) {
			return []string{""}
		}
	}
	return y.opts.Suffixes
}

func (y *Yahoo) fetchVariant(ctx context.Context, symbol, interval, candleRange string) ([]Candle, error) {
	endpoint := y.baseURL + chartPath + url.PathEscape(symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	q := req.URL.Query()
	q.Set("interval", interval)
	q.Set("range", candleRange)
	q.Set("includePrePost", "false")
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "breakoutwatch/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var chartRes chartResponse
	if err := json.Unmarshal(payload, &chartRes); err != nil {
		return nil, err
	}
	if chartRes.Chart.Error != nil {
		return nil, fmt.Errorf("chart api error: %s", chartRes.Chart.Error.Description)
	}
	if len(chartRes.Chart.Result) == 0 {
		return nil, ErrNoCandles
	}

	return buildCandles(chartRes.Chart.Result[0])
}

func buildCandles(result chartResult) ([]Candle, error) {
	if len(result.Indicators.Quote) == 0 {
		return nil, ErrNoCandles
	}
	quote := result.Indicators.Quote[0]

	candles := make([]Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// The chart API pads incomplete bars with nulls; skip them.
		if i >= len(quote.Open) || quote.Open[i] == nil ||
			i >= len(quote.High) || quote.High[i] == nil ||
			i >= len(quote.Low) || quote.Low[i] == nil ||
			i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}

		candle := Candle{
			Start: time.Unix(ts, 0).UTC(),
			Open:  decimal.NewFromFloat(*quote.Open[i]),
			High:  decimal.NewFromFloat(*quote.High[i]),
			Low:   decimal.NewFromFloat(*quote.Low[i]),
			Close: decimal.NewFromFloat(*quote.Close[i]),
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			candle.Volume = *quote.Volume[i]
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []chartQuote `json:"quote"`
	} `json:"indicators"`
}

type chartQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func parseHTTPError(status int, payload []byte) error {
	var chartRes chartResponse
	if err := json.Unmarshal(payload, &chartRes); err == nil && chartRes.Chart.Error != nil {
		if chartRes.Chart.Error.Description != "" {
			return fmt.Errorf("chart api error (%d): %s", status, chartRes.Chart.Error.Description)
		}
		if chartRes.Chart.Error.Code != "" {
			return fmt.Errorf("chart api error (%d): %s", status, chartRes.Chart.Error.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("chart api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("chart api error (%d)", status)
}

var _ CandleFetcher = (*Yahoo)(nil)
