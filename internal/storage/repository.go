package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createResultsTableSQL = `CREATE TABLE IF NOT EXISTS analysis_results (
        patient_id      TEXT          NOT NULL,
        data_type       TEXT          NOT NULL,
        fraction        TEXT          NOT NULL,
        reproducibility NUMERIC(12,4) NOT NULL,
        lvl_mean        NUMERIC(12,4) NOT NULL,
        lvl_std         NUMERIC(12,4) NOT NULL,
        stability       NUMERIC(12,4) NOT NULL,
        error_mean      NUMERIC(12,4) NOT NULL,
        error_std       NUMERIC(12,4) NOT NULL,
        analyzed_at     TIMESTAMPTZ   NOT NULL,
        PRIMARY KEY (patient_id, data_type, fraction)
    );`

	upsertResultSQL = `INSERT INTO analysis_results (
        patient_id,
        data_type,
        fraction,
        reproducibility,
        lvl_mean,
        lvl_std,
        stability,
        error_mean,
        error_std,
        analyzed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (patient_id, data_type, fraction) DO UPDATE
    SET
        reproducibility = EXCLUDED.reproducibility,
        lvl_mean        = EXCLUDED.lvl_mean,
        lvl_std         = EXCLUDED.lvl_std,
        stability       = EXCLUDED.stability,
        error_mean      = EXCLUDED.error_mean,
        error_std       = EXCLUDED.error_std,
        analyzed_at     = EXCLUDED.analyzed_at;`

	selectResultColumns = `SELECT
        patient_id,
        data_type,
        fraction,
        reproducibility::text,
        lvl_mean::text,
        lvl_std::text,
        stability::text,
        error_mean::text,
        error_std::text,
        analyzed_at
    FROM analysis_results`

	listRecentResultsSQL = selectResultColumns + `
    ORDER BY analyzed_at DESC, data_type, patient_id, fraction::int
    LIMIT $1;`

	listResultsSQL = selectResultColumns + `
    WHERE ($1 = '' OR data_type = $1)
    ORDER BY data_type, patient_id, fraction::int
    LIMIT NULLIF($2, 0);`

	countResultsSQL = `SELECT COUNT(*) FROM analysis_results;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ResultStore defines operations for fraction result persistence.
type ResultStore interface {
	UpsertResults(ctx context.Context, records []ResultRecord) error
	ListRecentResults(ctx context.Context, limit int) ([]ResultRecord, error)
	ListResults(ctx context.Context, dataType string, limit int) ([]ResultRecord, error)
	CountResults(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists analysis results in PostgreSQL.
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

// EnsureSchema creates the results table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createResultsTableSQL); err != nil {
		return fmt.Errorf("create analysis_results: %w", err)
	}
	return nil
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
		// Closing the session releases the lock as well.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertResults writes all records in a single transaction.
func (s *Store) UpsertResults(ctx context.Context, records []ResultRecord) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsertResultSQL,
			r.PatientID,
			r.DataType,
			r.Fraction,
			r.Reproducibility.String(),
			r.LevelMean.String(),
			r.LevelStd.String(),
			r.Stability.String(),
			r.ErrorMean.String(),
			r.ErrorStd.String(),
			r.AnalyzedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}
	return nil
}

// ListRecentResults lists the most recently analysed fractions.
func (s *Store) ListRecentResults(ctx context.Context, limit int) ([]ResultRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentResultsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent results: %w", queryErr)
	}
	return collectResults(rows, limit)
}

// ListResults lists stored results, optionally for one data type. A zero
// limit returns every row.
func (s *Store) ListResults(ctx context.Context, dataType string, limit int) ([]ResultRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listResultsSQL, dataType, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list results: %w", queryErr)
	}
	return collectResults(rows, limit)
}

// CountResults counts stored fraction results.
func (s *Store) CountResults(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countResultsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count results: %w", scanErr)
	}
	return count, nil
}

func collectResults(rows pgx.Rows, capacity int) ([]ResultRecord, error) {
	defer rows.Close()

	if capacity < 0 {
		capacity = 0
	}
	records := make([]ResultRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanResult(rows pgx.Rows) (ResultRecord, error) {
	var (
		rec     ResultRecord
		numeric [6]string
	)
	if err := rows.Scan(
		&rec.PatientID,
		&rec.DataType,
		&rec.Fraction,
		&numeric[0],
		&numeric[1],
		&numeric[2],
		&numeric[3],
		&numeric[4],
		&numeric[5],
		&rec.AnalyzedAt,
	); err != nil {
		return ResultRecord{}, err
	}

	targets := [6]*decimal.Decimal{
		&rec.Reproducibility,
		&rec.LevelMean,
		&rec.LevelStd,
		&rec.Stability,
		&rec.ErrorMean,
		&rec.ErrorStd,
	}
	for i, raw := range numeric {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return ResultRecord{}, fmt.Errorf("parse metric column %d: %w", i, err)
		}
		*targets[i] = d
	}
	return rec, nil
}
