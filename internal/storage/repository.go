package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates a point lookup matched no record.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidTimestamp indicates a caller-supplied instant could not be
	// parsed as a timezone-aware timestamp.
	ErrInvalidTimestamp = errors.New("storage: invalid timestamp")
)

const (
	insertFailureSQL = `INSERT INTO breakout_failures (
        company,
        ticker,
        location,
        failure_time
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, created_at;`

	getFailureSQL = `SELECT
        id,
        company,
        ticker,
        location,
        failure_time,
        created_at
    FROM breakout_failures
    WHERE id = $1;`

	countFailuresSQL = `SELECT COUNT(*) FROM breakout_failures;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	schemaSQL = `CREATE TABLE IF NOT EXISTS breakout_failures (
        id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
        company       TEXT,
        ticker        TEXT,
        location      TEXT,
        failure_time  TIMESTAMPTZ,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`
)

// FailureStore defines operations for breakout failure persistence.
type FailureStore interface {
	InsertFailure(ctx context.Context, failure NewFailure) (FailureRecord, error)
	InsertFailures(ctx context.Context, failures []NewFailure) ([]FailureRecord, error)
	GetFailure(ctx context.Context, id int64) (FailureRecord, error)
	ListFailures(ctx context.Context, filter FailureFilter) ([]FailureRecord, error)
	CountFailures(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store provides PostgreSQL-backed access to breakout failures.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// EnsureSchema creates the breakout_failures table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// InsertFailure persists one failure and returns it with the assigned
// identity and write timestamp.
func (s *Store) InsertFailure(ctx context.Context, failure NewFailure) (FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FailureRecord{}, err
	}

	rec := FailureRecord{
		Company:     failure.Company,
		Ticker:      failure.Ticker,
		Location:    failure.Location,
		FailureTime: failure.FailureTime,
	}
	row := pool.QueryRow(ctx, insertFailureSQL,
		failure.Company,
		failure.Ticker,
		failure.Location,
		failure.FailureTime,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return FailureRecord{}, fmt.Errorf("insert failure: %w", scanErr)
	}
	return rec, nil
}

// InsertFailures persists a batch of failures in one round trip. Records are
// returned in input order with ids assigned in the same order.
func (s *Store) InsertFailures(ctx context.Context, failures []NewFailure) ([]FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(failures) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, failure := range failures {
		batch.Queue(insertFailureSQL,
			failure.Company,
			failure.Ticker,
			failure.Location,
			failure.FailureTime,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	records := make([]FailureRecord, 0, len(failures))
	for _, failure := range failures {
		rec := FailureRecord{
			Company:     failure.Company,
			Ticker:      failure.Ticker,
			Location:    failure.Location,
			FailureTime: failure.FailureTime,
		}
		if scanErr := results.QueryRow().Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("insert failures batch: %w", scanErr)
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetFailure looks up a single failure by id.
func (s *Store) GetFailure(ctx context.Context, id int64) (FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FailureRecord{}, err
	}

	rec, scanErr := scanFailure(pool.QueryRow(ctx, getFailureSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return FailureRecord{}, ErrNotFound
		}
		return FailureRecord{}, fmt.Errorf("get failure: %w", scanErr)
	}
	return rec, nil
}

// ListFailures returns failures matching the filter, newest first. Re-running
// the same call restarts the scan from the top.
func (s *Store) ListFailures(ctx context.Context, filter FailureFilter) ([]FailureRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := buildListFailuresQuery(filter)
	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list failures: %w", queryErr)
	}
	defer rows.Close()

	records := make([]FailureRecord, 0)
	for rows.Next() {
		rec, scanErr := scanFailure(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountFailures counts stored failures.
func (s *Store) CountFailures(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countFailuresSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count failures: %w", scanErr)
	}
	return count, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// buildListFailuresQuery renders the dynamic WHERE clause for ListFailures.
// Ordering is created_at then id descending so ties resolve deterministically.
func buildListFailuresQuery(filter FailureFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	addClause := func(column string, op string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", column, op, len(args)))
	}

	if filter.Company != nil {
		addClause("company", "=", *filter.Company)
	}
	if filter.Ticker != nil {
		addClause("ticker", "=", *filter.Ticker)
	}
	if filter.Location != nil {
		addClause("location", "=", *filter.Location)
	}
	if filter.From != nil {
		addClause("failure_time", ">=", *filter.From)
	}
	if filter.To != nil {
		addClause("failure_time", "<", *filter.To)
	}

	query := strings.Builder{}
	query.WriteString("SELECT id, company, ticker, location, failure_time, created_at FROM breakout_failures")
	if len(clauses) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(clauses, " AND "))
	}
	query.WriteString(" ORDER BY created_at DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	query.WriteString(";")

	return query.String(), args
}

func scanFailure(row pgx.Row) (FailureRecord, error) {
	var rec FailureRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Company,
		&rec.Ticker,
		&rec.Location,
		&rec.FailureTime,
		&rec.CreatedAt,
	); err != nil {
		return FailureRecord{}, err
	}
	return rec, nil
}
