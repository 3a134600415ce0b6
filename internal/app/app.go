package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"breakout-failures/internal/alerting"
	"breakout-failures/internal/api"
	"breakout-failures/internal/cache"
	"breakout-failures/internal/config"
	"breakout-failures/internal/fetcher"
	"breakout-failures/internal/metrics"
	"breakout-failures/internal/scanner"
	"breakout-failures/internal/scheduler"
	"breakout-failures/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.CandleFetcher {
	return fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   a.Config.Fetcher.BaseURL,
		Timeout:   a.Config.Fetcher.RequestTimeout,
		UserAgent: a.Config.Fetcher.UserAgent,
		Suffixes:  a.Config.Fetcher.Suffixes,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running service: HTTP API plus the scheduled scan
// loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	candleCache := cache.NewCandleCache(a.Config.Redis, a.Logger)
	if candleCache != nil {
		defer candleCache.Close()
	}

	m := metrics.New()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scanner.Interval,
		AlignToStart: a.Config.Scanner.AlignToInterval,
		StartupDelay: a.Config.Scanner.StartupDelay,
	}, a.Logger)

	var failureStore storage.FailureStore
	if store != nil {
		failureStore = store
	}

	svc := scanner.New(a.Config, sched, a.newFetcher(), candleCache, failureStore, a.newNotifier(), m, a.Logger)

	health := make(map[string]api.HealthCheck)
	if store != nil {
		health["postgres"] = store.Ping
	}
	if candleCache != nil {
		health["redis"] = candleCache.Ping
	}

	server := api.NewServer(a.Config.API, svc, failureStore, health, m, a.Logger)

	errCh := make(chan error, 2)
	go func() {
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()
	go func() {
		errCh <- svc.Run(ctx)
	}()

	a.Logger.Info().Msg("breakout failure service started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownTimeout := a.Config.API.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("breakout failure service stopped")
	return nil
}

// InitDB creates the persisted schema.
func (a *App) InitDB(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot initialise schema")
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema ensured")
	return nil
}

// ScanOptions configure a one-shot scan.
type ScanOptions struct {
	Tickers  []string
	Interval string
	Range    string
	Save     bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Ticker string
}

// ExportOptions hold parameters for exporting stored failures.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}
