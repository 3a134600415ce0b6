package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"breakout-failures/internal/cache"
	"breakout-failures/internal/scanner"
	"breakout-failures/internal/storage"
)

// Scan analyses the given tickers once and prints detected failures.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	if len(opts.Tickers) == 0 {
		return errors.New("at least one ticker is required")
	}

	var failureStore storage.FailureStore
	if opts.Save {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database not configured; cannot save results")
		}
		defer closeStore()
		failureStore = store
	}

	candleCache := cache.NewCandleCache(a.Config.Redis, a.Logger)
	if candleCache != nil {
		defer candleCache.Close()
	}

	svc := scanner.New(a.Config, nil, a.newFetcher(), candleCache, failureStore, nil, nil, a.Logger)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Ticker\tCompany\tLocation\tBreak (UTC)\tFailure (UTC)\tClose")

	total := 0
	var firstErr error
	for _, entry := range opts.Tickers {
		ticker, company := scanner.ParseSymbol(entry)
		failures, err := svc.ScanSymbol(ctx, ticker, company, opts.Interval, opts.Range, opts.Save)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.Logger.Error().Err(err).Str("ticker", ticker).Msg("scan failed")
			continue
		}
		for _, failure := range failures {
			total++
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\n",
				failure.Ticker,
				failure.Company,
				failure.Location,
				failure.BreakTime.UTC().Format(time.RFC3339),
				failure.FailureTime.UTC().Format(time.RFC3339),
				failure.CloseAtFailure.StringFixed(2),
			)
		}
	}

	writer.Flush()
	if total == 0 {
		fmt.Fprintln(os.Stdout, "no breakout failures detected")
	}
	return firstErr
}
