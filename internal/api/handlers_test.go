package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"breakout-failures/internal/analysis"
	"breakout-failures/internal/config"
	"breakout-failures/internal/storage"
)

type stubAnalyzer struct {
	failures []analysis.Failure
	err      error
	saved    []bool
	tickers  []string
}

func (a *stubAnalyzer) ScanSymbol(ctx context.Context, ticker, company, interval, candleRange string, save bool) ([]analysis.Failure, error) {
	a.tickers = append(a.tickers, ticker)
	a.saved = append(a.saved, save)
	return a.failures, a.err
}

type stubStore struct {
	records    []storage.FailureRecord
	lastFilter storage.FailureFilter
}

func (s *stubStore) InsertFailure(ctx context.Context, failure storage.NewFailure) (storage.FailureRecord, error) {
	return storage.FailureRecord{}, nil
}

func (s *stubStore) InsertFailures(ctx context.Context, failures []storage.NewFailure) ([]storage.FailureRecord, error) {
	return nil, nil
}

func (s *stubStore) GetFailure(ctx context.Context, id int64) (storage.FailureRecord, error) {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return storage.FailureRecord{}, storage.ErrNotFound
}

func (s *stubStore) ListFailures(ctx context.Context, filter storage.FailureFilter) ([]storage.FailureRecord, error) {
	s.lastFilter = filter
	return s.records, nil
}

func (s *stubStore) CountFailures(ctx context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

func testServer(analyzer Analyzer, store storage.FailureStore, health map[string]HealthCheck) *Server {
	return NewServer(config.APIConfig{Listen: ":0", RequestTimeout: time.Second}, analyzer, store, health, nil, zerolog.Nop())
}

func sampleFailure() analysis.Failure {
	return analysis.Failure{
		Company:        "Acme Corp",
		Ticker:         "ACME",
		Location:       analysis.LocationZoneHigh,
		BreakTime:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		FailureTime:    time.Date(2024, 3, 1, 9, 45, 0, 0, time.UTC),
		CloseAtFailure: decimal.NewFromFloat(101.5),
	}
}

func sampleRecord(id int64) storage.FailureRecord {
	company := "Acme Corp"
	ticker := "ACME"
	location := analysis.LocationZoneHigh
	when := time.Date(2024, 3, 1, 9, 45, 0, 0, time.UTC)
	return storage.FailureRecord{
		ID:          id,
		Company:     &company,
		Ticker:      &ticker,
		Location:    &location,
		FailureTime: &when,
		CreatedAt:   time.Date(2024, 3, 1, 9, 46, 0, 0, time.UTC),
	}
}

func TestHandleAnalyze(t *testing.T) {
	analyzer := &stubAnalyzer{failures: []analysis.Failure{sampleFailure()}}
	srv := testServer(analyzer, &stubStore{}, nil)

	body, _ := json.Marshal(AnalyzeRequest{Ticker: "ACME", Save: true})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var out []FailureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one failure, got %d", len(out))
	}
	if out[0].Ticker != "ACME" || out[0].Location != analysis.LocationZoneHigh {
		t.Fatalf("failure fields wrong: %+v", out[0])
	}
	if out[0].FailureTime != "2024-03-01T09:45:00Z" {
		t.Fatalf("failure_time should be RFC3339, got %q", out[0].FailureTime)
	}
	if len(analyzer.saved) != 1 || !analyzer.saved[0] {
		t.Fatalf("save flag not forwarded: %v", analyzer.saved)
	}
}

func TestHandleAnalyzeMissingTicker(t *testing.T) {
	srv := testServer(&stubAnalyzer{}, &stubStore{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAnalyzeBatch(t *testing.T) {
	analyzer := &stubAnalyzer{failures: []analysis.Failure{sampleFailure()}}
	srv := testServer(analyzer, &stubStore{}, nil)

	body, _ := json.Marshal([]AnalyzeRequest{{Ticker: "ACME"}, {Ticker: "TCS.NS"}})
	req := httptest.NewRequest(http.MethodPost, "/api/analyze/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var out []FailureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("batch should concatenate results, got %d", len(out))
	}
	if len(analyzer.tickers) != 2 || analyzer.tickers[1] != "TCS.NS" {
		t.Fatalf("both tickers should be scanned: %v", analyzer.tickers)
	}
}

func TestHandleListFailures(t *testing.T) {
	store := &stubStore{records: []storage.FailureRecord{sampleRecord(1), sampleRecord(2)}}
	srv := testServer(&stubAnalyzer{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/failures?ticker=ACME&from=2024-03-01T00:00:00Z&limit=5", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var out []RecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}

	if store.lastFilter.Ticker == nil || *store.lastFilter.Ticker != "ACME" {
		t.Fatalf("ticker filter not forwarded: %+v", store.lastFilter)
	}
	if store.lastFilter.From == nil || !store.lastFilter.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from filter not forwarded: %+v", store.lastFilter)
	}
	if store.lastFilter.Limit != 5 {
		t.Fatalf("limit not forwarded: %+v", store.lastFilter)
	}
}

func TestHandleListFailuresBadTimestamp(t *testing.T) {
	srv := testServer(&stubAnalyzer{}, &stubStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/failures?from=yesterday", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed timestamp should be 400, got %d", rec.Code)
	}
}

func TestHandleGetFailure(t *testing.T) {
	store := &stubStore{records: []storage.FailureRecord{sampleRecord(7)}}
	srv := testServer(&stubAnalyzer{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/failures/7", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var out RecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.ID != 7 || out.Ticker == nil || *out.Ticker != "ACME" {
		t.Fatalf("record fields wrong: %+v", out)
	}
}

func TestHandleGetFailureNotFound(t *testing.T) {
	srv := testServer(&stubAnalyzer{}, &stubStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/failures/99", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id should be 404, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	healthy := map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
	}
	srv := testServer(&stubAnalyzer{}, &stubStore{}, healthy)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	unhealthy := map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return context.DeadlineExceeded },
	}
	srv = testServer(&stubAnalyzer{}, &stubStore{}, unhealthy)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed dependency should be 503, got %d", rec.Code)
	}
}
