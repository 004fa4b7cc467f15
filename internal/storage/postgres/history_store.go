// Package postgres persists clone job history in Postgres.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-cloner/internal/store"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "clone_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// HistoryStore implements store.HistoryRepository.
type HistoryStore struct {
	pool  pool
	table string
}

var _ store.HistoryRepository = (*HistoryStore)(nil)

// NewHistoryStore connects to Postgres using cfg.
func NewHistoryStore(ctx context.Context, cfg Config) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: p, table: table}, nil
}

// NewHistoryStoreWithPool builds a store over an existing pool.
func NewHistoryStoreWithPool(p pool, table string) (*HistoryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Ping checks the connection for readiness probes.
func (s *HistoryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *HistoryStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the history table when it does not exist.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			job_id         TEXT PRIMARY KEY,
			url            TEXT NOT NULL,
			full_site      BOOLEAN NOT NULL DEFAULT FALSE,
			status         TEXT NOT NULL,
			phase          TEXT NOT NULL DEFAULT '',
			started_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ,
			pages_captured BIGINT NOT NULL DEFAULT 0,
			pages_failed   BIGINT NOT NULL DEFAULT 0,
			bytes_captured BIGINT NOT NULL DEFAULT 0,
			assets         BIGINT NOT NULL DEFAULT 0,
			error_message  TEXT
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// StartRun inserts a running row or resets an existing one.
func (s *HistoryStore) StartRun(ctx context.Context, run store.RunStart) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, url, full_site, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status, started_at = EXCLUDED.started_at, updated_at = EXCLUDED.updated_at;`, s.table)
	if _, err := s.pool.Exec(ctx, query, run.JobID, run.URL, run.FullSite, string(store.RunRunning), run.StartedAt); err != nil {
		return fmt.Errorf("insert run %s: %w", run.JobID, err)
	}
	return nil
}

// UpdatePhase records the latest phase name.
func (s *HistoryStore) UpdatePhase(ctx context.Context, jobID, phase string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET phase = $1, updated_at = $2 WHERE job_id = $3;`, s.table)
	return s.execUpdate(ctx, "update phase", jobID, query, phase, at, jobID)
}

// AddPages applies capture counter deltas.
func (s *HistoryStore) AddPages(ctx context.Context, jobID string, delta store.PageDelta) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET pages_captured = pages_captured + $1,
			pages_failed = pages_failed + $2,
			bytes_captured = bytes_captured + $3,
			updated_at = $4
		WHERE job_id = $5;`, s.table)
	return s.execUpdate(ctx, "add pages", jobID, query, delta.Captured, delta.Failed, delta.Bytes, delta.At, jobID)
}

// FinishRun marks the run terminal.
func (s *HistoryStore) FinishRun(ctx context.Context, jobID string, finish store.RunFinish) error {
	if !finish.Status.Valid() || finish.Status == store.RunRunning {
		return fmt.Errorf("finish run %s: invalid status %q", jobID, finish.Status)
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, finished_at = $2, updated_at = $2, assets = $3, error_message = $4
		WHERE job_id = $5;`, s.table)
	return s.execUpdate(ctx, "finish run", jobID, query, string(finish.Status), finish.FinishedAt, finish.Assets, finish.Error, jobID)
}

func (s *HistoryStore) execUpdate(ctx context.Context, op, jobID, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, jobID, store.ErrNotFound)
	}
	return nil
}

const runColumns = `job_id, url, full_site, status, phase, started_at, updated_at, finished_at, ` +
	`pages_captured, pages_failed, bytes_captured, assets, error_message`

// GetRun loads one run.
func (s *HistoryStore) GetRun(ctx context.Context, jobID string) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE job_id = $1;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run %s: %w", jobID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, runColumns, s.table)
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run      store.Run
		status   string
		finished sql.NullTime
		errMsg   sql.NullString
	)
	err := row.Scan(
		&run.JobID,
		&run.URL,
		&run.FullSite,
		&status,
		&run.Phase,
		&run.StartedAt,
		&run.UpdatedAt,
		&finished,
		&run.PagesCaptured,
		&run.PagesFailed,
		&run.BytesCaptured,
		&run.Assets,
		&errMsg,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	return run, nil
}
