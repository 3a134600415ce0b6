package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-failures/internal/analysis"
	"breakout-failures/internal/config"
	"breakout-failures/internal/fetcher"
	"breakout-failures/internal/storage"
)

type staticFetcher struct {
	candles  []fetcher.Candle
	resolved string
	err      error
	calls    int
}

func (f *staticFetcher) FetchCandles(ctx context.Context, symbol, interval, candleRange string) ([]fetcher.Candle, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	resolved := f.resolved
	if resolved == "" {
		resolved = symbol
	}
	return f.candles, resolved, nil
}

type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records []storage.FailureRecord
}

func (m *memoryStore) InsertFailure(ctx context.Context, failure storage.NewFailure) (storage.FailureRecord, error) {
	records, err := m.InsertFailures(ctx, []storage.NewFailure{failure})
	if err != nil {
		return storage.FailureRecord{}, err
	}
	return records[0], nil
}

func (m *memoryStore) InsertFailures(ctx context.Context, failures []storage.NewFailure) ([]storage.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.FailureRecord, 0, len(failures))
	for _, f := range failures {
		m.nextID++
		rec := storage.FailureRecord{
			ID:          m.nextID,
			Company:     f.Company,
			Ticker:      f.Ticker,
			Location:    f.Location,
			FailureTime: f.FailureTime,
			CreatedAt:   time.Now().UTC(),
		}
		m.records = append(m.records, rec)
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStore) GetFailure(ctx context.Context, id int64) (storage.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return storage.FailureRecord{}, storage.ErrNotFound
}

func (m *memoryStore) ListFailures(ctx context.Context, filter storage.FailureFilter) ([]storage.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.FailureRecord, 0, len(m.records))
	for _, rec := range m.records {
		if filter.Ticker != nil && (rec.Ticker == nil || *rec.Ticker != *filter.Ticker) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStore) CountFailures(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func scannerConfig() *config.Config {
	return &config.Config{
		Scanner: config.ScannerConfig{
			Symbols:        []string{"ACME=Acme Corp"},
			CandleInterval: "5m",
			CandleRange:    "1d",
			KFactor:        1,
			LocalWindow:    1,
			ATRPeriod:      1,
			LookaheadBars:  3,
			Interval:       time.Minute,
		},
	}
}

// failureCandles reproduce a series with one zone-high breakout failure.
func failureCandles() []fetcher.Candle {
	prices := []float64{10, 12, 10, 15, 16, 10, 10}
	candles := make([]fetcher.Candle, len(prices))
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for i, p := range prices {
		candles[i] = fetcher.Candle{
			Start: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:  decimalFromFloat(p),
			High:  decimalFromFloat(p),
			Low:   decimalFromFloat(p),
			Close: decimalFromFloat(p),
		}
	}
	return candles
}

func TestScanSymbolPersistsFailures(t *testing.T) {
	store := &memoryStore{}
	svc := New(scannerConfig(), nil, &staticFetcher{candles: failureCandles()}, nil, store, nil, nil, zerolog.Nop())

	failures, err := svc.ScanSymbol(context.Background(), "ACME", "Acme Corp", "", "", true)
	if err != nil {
		t.Fatalf("scan should succeed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(failures))
	}

	count, _ := store.CountFailures(context.Background())
	if count != 1 {
		t.Fatalf("failure should be persisted, store holds %d", count)
	}

	rec, err := store.GetFailure(context.Background(), 1)
	if err != nil {
		t.Fatalf("persisted record should be readable: %v", err)
	}
	if rec.Ticker == nil || *rec.Ticker != "ACME" {
		t.Fatalf("ticker not persisted: %+v", rec)
	}
	if rec.Company == nil || *rec.Company != "Acme Corp" {
		t.Fatalf("company not persisted: %+v", rec)
	}
	if rec.Location == nil || *rec.Location != analysis.LocationZoneHigh {
		t.Fatalf("location not persisted: %+v", rec)
	}
	if rec.FailureTime == nil {
		t.Fatal("failure time not persisted")
	}
}

func TestScanSymbolWithoutSaveLeavesStoreEmpty(t *testing.T) {
	store := &memoryStore{}
	svc := New(scannerConfig(), nil, &staticFetcher{candles: failureCandles()}, nil, store, nil, nil, zerolog.Nop())

	if _, err := svc.ScanSymbol(context.Background(), "ACME", "", "", "", false); err != nil {
		t.Fatalf("scan should succeed: %v", err)
	}

	count, _ := store.CountFailures(context.Background())
	if count != 0 {
		t.Fatalf("save=false must not persist, store holds %d", count)
	}
}

func TestProcessCycleScansConfiguredSymbols(t *testing.T) {
	store := &memoryStore{}
	fetch := &staticFetcher{candles: failureCandles()}
	svc := New(scannerConfig(), nil, fetch, nil, store, nil, nil, zerolog.Nop())

	if err := svc.ProcessCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if fetch.calls != 1 {
		t.Fatalf("expected one fetch for one configured symbol, got %d", fetch.calls)
	}

	count, _ := store.CountFailures(context.Background())
	if count != 1 {
		t.Fatalf("cycle should persist detections, store holds %d", count)
	}
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	cfg := scannerConfig()
	cfg.Alerting.Cooldown = 30 * time.Minute
	svc := New(cfg, nil, &staticFetcher{}, nil, nil, nil, nil, zerolog.Nop())

	now := time.Now().UTC()
	if !svc.cooledDown("ACME", now) {
		t.Fatal("first alert should pass")
	}
	if svc.cooledDown("ACME", now.Add(time.Minute)) {
		t.Fatal("second alert within cooldown should be suppressed")
	}
	if !svc.cooledDown("OTHER", now.Add(time.Minute)) {
		t.Fatal("cooldown is per ticker")
	}
	if !svc.cooledDown("ACME", now.Add(31*time.Minute)) {
		t.Fatal("alert after cooldown should pass")
	}
}

func TestParseSymbol(t *testing.T) {
	cases := []struct {
		entry   string
		ticker  string
		company string
	}{
		{"ACME", "ACME", "ACME"},
		{"RELIANCE.NS=Reliance Industries", "RELIANCE.NS", "Reliance Industries"},
		{"TCS.NS= ", "TCS.NS", "TCS.NS"},
		{" INFY =Infosys", "INFY", "Infosys"},
	}
	for _, tc := range cases {
		ticker, company := ParseSymbol(tc.entry)
		if ticker != tc.ticker || company != tc.company {
			t.Fatalf("ParseSymbol(%q) = %q, %q; want %q, %q", tc.entry, ticker, company, tc.ticker, tc.company)
		}
	}
}

func TestRecordsFromFailuresUsesDistinctPointers(t *testing.T) {
	failures := []analysis.Failure{
		{Ticker: "A", Company: "A Corp", Location: analysis.LocationZoneHigh, FailureTime: time.Now()},
		{Ticker: "B", Company: "B Corp", Location: analysis.LocationZoneLow, FailureTime: time.Now()},
	}
	records := RecordsFromFailures(failures)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if *records[0].Ticker != "A" || *records[1].Ticker != "B" {
		t.Fatalf("pointer fields must not alias across records: %v %v", *records[0].Ticker, *records[1].Ticker)
	}
	if *records[0].Location != analysis.LocationZoneHigh || *records[1].Location != analysis.LocationZoneLow {
		t.Fatalf("locations wrong: %v %v", *records[0].Location, *records[1].Location)
	}
}
