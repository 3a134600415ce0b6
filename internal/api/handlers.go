package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"breakout-failures/internal/analysis"
	"breakout-failures/internal/storage"
)

const defaultListLimit = 100

// AnalyzeRequest triggers an ad-hoc scan of one ticker.
type AnalyzeRequest struct {
	Ticker   string `json:"ticker"`
	Company  string `json:"company,omitempty"`
	Interval string `json:"interval,omitempty"`
	Range    string `json:"range,omitempty"`
	Save     bool   `json:"save,omitempty"`
}

// FailureResponse is one detected failure as returned by the analyze
// endpoints.
type FailureResponse struct {
	Company        string          `json:"company"`
	Ticker         string          `json:"ticker"`
	Location       string          `json:"location"`
	FailureTime    string          `json:"failure_time"`
	BreakTime      string          `json:"break_time"`
	CloseAtFailure decimal.Decimal `json:"close_at_failure"`
}

// RecordResponse is one stored failure row.
type RecordResponse struct {
	ID          int64      `json:"id"`
	Company     *string    `json:"company"`
	Ticker      *string    `json:"ticker"`
	Location    *string    `json:"location"`
	FailureTime *time.Time `json:"failure_time"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	failures, ok := s.runAnalyze(r.Context(), w, req)
	if !ok {
		return
	}
	s.respondWithJSON(w, http.StatusOK, toFailureResponses(failures))
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(reqs) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "request list cannot be empty")
		return
	}

	all := make([]FailureResponse, 0)
	for _, req := range reqs {
		failures, ok := s.runAnalyze(r.Context(), w, req)
		if !ok {
			return
		}
		all = append(all, toFailureResponses(failures)...)
	}
	s.respondWithJSON(w, http.StatusOK, all)
}

// runAnalyze validates and executes one analyze request. It writes the error
// response itself and reports ok=false when the caller should stop.
func (s *Server) runAnalyze(ctx context.Context, w http.ResponseWriter, req AnalyzeRequest) ([]analysis.Failure, bool) {
	if strings.TrimSpace(req.Ticker) == "" {
		s.respondWithError(w, http.StatusBadRequest, "ticker is required")
		return nil, false
	}
	if s.analyzer == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "analyzer not configured")
		return nil, false
	}

	failures, err := s.analyzer.ScanSymbol(ctx, req.Ticker, req.Company, req.Interval, req.Range, req.Save)
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", req.Ticker).Msg("analyze request failed")
		s.respondWithError(w, http.StatusBadGateway, "analysis failed: "+err.Error())
		return nil, false
	}
	return failures, true
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.ListFailures(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("list failures failed")
		s.respondWithError(w, http.StatusInternalServerError, "could not list failures")
		return
	}
	s.respondWithJSON(w, http.StatusOK, toRecordResponses(records))
}

func (s *Server) handleGetFailure(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	record, err := s.store.GetFailure(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "failure not found")
			return
		}
		s.logger.Error().Err(err).Int64("id", id).Msg("get failure failed")
		s.respondWithError(w, http.StatusInternalServerError, "could not retrieve failure")
		return
	}
	s.respondWithJSON(w, http.StatusOK, toRecordResponse(record))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			status[name] = "unhealthy"
			healthy = false
			s.logger.Error().Err(err).Str("dependency", name).Msg("health check failed")
			continue
		}
		status[name] = "healthy"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	s.respondWithJSON(w, code, status)
}

// filterFromQuery parses list query parameters. Malformed timestamps map to
// storage.ErrInvalidTimestamp.
func filterFromQuery(r *http.Request) (storage.FailureFilter, error) {
	var filter storage.FailureFilter

	q := r.URL.Query()
	if v := q.Get("company"); v != "" {
		filter.Company = &v
	}
	if v := q.Get("ticker"); v != "" {
		filter.Ticker = &v
	}
	if v := q.Get("location"); v != "" {
		filter.Location = &v
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, storage.ErrInvalidTimestamp
		}
		filter.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, storage.ErrInvalidTimestamp
		}
		filter.To = &to
	}

	filter.Limit = defaultListLimit
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}

func toFailureResponses(failures []analysis.Failure) []FailureResponse {
	out := make([]FailureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, FailureResponse{
			Company:        f.Company,
			Ticker:         f.Ticker,
			Location:       f.Location,
			FailureTime:    f.FailureTime.UTC().Format(time.RFC3339),
			BreakTime:      f.BreakTime.UTC().Format(time.RFC3339),
			CloseAtFailure: f.CloseAtFailure,
		})
	}
	return out
}

func toRecordResponse(record storage.FailureRecord) RecordResponse {
	return RecordResponse{
		ID:          record.ID,
		Company:     record.Company,
		Ticker:      record.Ticker,
		Location:    record.Location,
		FailureTime: record.FailureTime,
		CreatedAt:   record.CreatedAt,
	}
}

func toRecordResponses(records []storage.FailureRecord) []RecordResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toRecordResponse(record))
	}
	return out
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
