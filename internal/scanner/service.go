package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-failures/internal/alerting"
	"breakout-failures/internal/analysis"
	"breakout-failures/internal/cache"
	"breakout-failures/internal/config"
	"breakout-failures/internal/fetcher"
	"breakout-failures/internal/metrics"
	"breakout-failures/internal/scheduler"
	"breakout-failures/internal/storage"
)

// Service orchestrates candle fetching, failure detection, persistence, and
// alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	fetcher   fetcher.CandleFetcher
	cache     *cache.CandleCache
	store     storage.FailureStore
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	params         analysis.Params
	symbols        []string
	candleInterval string
	candleRange    string

	alertsOn bool
	cooldown time.Duration
	locker   storage.AdvisoryLocker
	lockKey  int64

	alertMu   sync.Mutex
	lastAlert map[string]time.Time
}

// New constructs the scanner service.
func New(cfg *config.Config, sched *scheduler.Scheduler, candleFetcher fetcher.CandleFetcher, candleCache *cache.CandleCache, store storage.FailureStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	params := analysis.Params{
		K:         decimal.NewFromFloat(cfg.Scanner.KFactor),
		Window:    cfg.Scanner.LocalWindow,
		ATRPeriod: cfg.Scanner.ATRPeriod,
		Lookahead: cfg.Scanner.LookaheadBars,
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:      sched,
		fetcher:        candleFetcher,
		cache:          candleCache,
		store:          store,
		notifier:       notifier,
		metrics:        m,
		logger:         logger.With().Str("component", "scanner").Logger(),
		params:         params,
		symbols:        cfg.Scanner.Symbols,
		candleInterval: cfg.Scanner.CandleInterval,
		candleRange:    cfg.Scanner.CandleRange,
		alertsOn:       cfg.Alerting.Enabled,
		cooldown:       cfg.Alerting.Cooldown,
		locker:         locker,
		lockKey:        cfg.Scanner.AdvisoryLockKey,
		lastAlert:      make(map[string]time.Time),
	}
}

// Run begins the scheduled scan loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle scans every configured symbol once. The advisory lock keeps a
// cycle single-flight across replicas.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if len(s.symbols) == 0 {
		s.logger.Warn().Msg("no symbols configured; nothing to scan")
		return nil
	}

	var firstErr error
	for _, entry := range s.symbols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ticker, company := ParseSymbol(entry)
		failures, err := s.ScanSymbol(ctx, ticker, company, "", "", true)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Error().Err(err).Str("ticker", ticker).Msg("symbol scan failed")
			continue
		}
		s.maybeNotify(ctx, ticker, company, cycle, failures)
	}
	return firstErr
}

// ScanSymbol fetches candles for one symbol, detects breakout failures, and
// optionally persists them. Interval and candle range fall back to the
// configured defaults when empty.
func (s *Service) ScanSymbol(ctx context.Context, ticker, company, interval, candleRange string, save bool) ([]analysis.Failure, error) {
	if interval == "" {
		interval = s.candleInterval
	}
	if candleRange == "" {
		candleRange = s.candleRange
	}
	if company == "" {
		company = ticker
	}

	if s.metrics != nil {
		s.metrics.ScansTotal.Inc()
	}

	candles, resolved, err := s.fetchCandles(ctx, ticker, interval, candleRange)
	if err != nil {
		if s.metrics != nil {
			s.metrics.FetchErrors.WithLabelValues(ticker).Inc()
		}
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	failures := analysis.DetectFailures(resolved, company, candles, s.params)

	if s.metrics != nil {
		for _, failure := range failures {
			s.metrics.FailuresDetected.WithLabelValues(failure.Location).Inc()
		}
	}

	s.logger.Info().
		Str("ticker", resolved).
		Int("candles", len(candles)).
		Int("failures", len(failures)).
		Msg("symbol scanned")

	if save && len(failures) > 0 && s.store != nil {
		records, err := s.store.InsertFailures(ctx, RecordsFromFailures(failures))
		if err != nil {
			if s.metrics != nil {
				s.metrics.StoreErrors.Inc()
			}
			return failures, fmt.Errorf("persist failures: %w", err)
		}
		if s.metrics != nil {
			s.metrics.FailuresPersisted.Add(float64(len(records)))
		}
	}

	return failures, nil
}

func (s *Service) fetchCandles(ctx context.Context, ticker, interval, candleRange string) ([]fetcher.Candle, string, error) {
	if candles, ok := s.cache.Get(ctx, ticker, interval, candleRange); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return candles, ticker, nil
	}

	candles, resolved, err := s.fetcher.FetchCandles(ctx, ticker, interval, candleRange)
	if err != nil {
		return nil, "", err
	}

	// Cache under the caller's symbol so the next scan hits without
	// re-walking the suffix fallback.
	s.cache.Set(ctx, ticker, interval, candleRange, candles)
	return candles, resolved, nil
}

func (s *Service) maybeNotify(ctx context.Context, ticker, company string, cycle time.Time, failures []analysis.Failure) {
	if !s.alertsOn || s.notifier == nil || len(failures) == 0 {
		return
	}
	if !s.cooledDown(ticker, cycle) {
		s.logger.Debug().Str("ticker", ticker).Msg("alert suppressed by cooldown")
		return
	}

	note := alerting.Notification{
		Ticker:   ticker,
		Company:  company,
		ScanTime: cycle,
		Failures: failures,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to dispatch alert")
	}
}

// cooledDown reports whether enough time passed since the previous alert for
// this ticker, and records the new alert time when it has.
func (s *Service) cooledDown(ticker string, now time.Time) bool {
	if s.cooldown <= 0 {
		return true
	}
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	if last, ok := s.lastAlert[ticker]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastAlert[ticker] = now
	return true
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// RecordsFromFailures converts detected failures into store inserts.
func RecordsFromFailures(failures []analysis.Failure) []storage.NewFailure {
	records := make([]storage.NewFailure, 0, len(failures))
	for _, failure := range failures {
		f := failure
		when := f.FailureTime
		records = append(records, storage.NewFailure{
			Company:     &f.Company,
			Ticker:      &f.Ticker,
			Location:    &f.Location,
			FailureTime: &when,
		})
	}
	return records
}

// ParseSymbol splits a configured watchlist entry. Entries are either a bare
// ticker or "TICKER=Company Name".
func ParseSymbol(entry string) (ticker, company string) {
	ticker, company, found := strings.Cut(entry, "=")
	ticker = strings.TrimSpace(ticker)
	if !found || strings.TrimSpace(company) == "" {
		return ticker, ticker
	}
	return ticker, strings.TrimSpace(company)
}
