package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/quantexec/splitflow/internal/split"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			leg_id TEXT NOT NULL,
			security TEXT NOT NULL,
			side TEXT NOT NULL,
			delta TEXT NOT NULL,
			target TEXT NOT NULL,
			sell_all INTEGER NOT NULL DEFAULT 0,
			seq INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			status TEXT,
			filled_qty INTEGER NOT NULL DEFAULT 0,
			avg_fill_price TEXT NOT NULL DEFAULT '0',
			filled_value TEXT NOT NULL DEFAULT '0',
			err_msg TEXT,
			executed_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_security ON executions(security)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at)`,

		`CREATE TABLE IF NOT EXISTS pending_legs (
			id TEXT PRIMARY KEY,
			security TEXT NOT NULL,
			delta TEXT NOT NULL,
			target TEXT NOT NULL,
			sell_all INTEGER NOT NULL DEFAULT 0,
			exec_at DATETIME NOT NULL,
			seq INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_legs_exec_at ON pending_legs(exec_at)`,

		`CREATE TABLE IF NOT EXISTS scheduler_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_updated DATETIME NOT NULL,
			last_tick_at DATETIME NOT NULL,
			total_executed INTEGER NOT NULL DEFAULT 0,
			total_rescheduled INTEGER NOT NULL DEFAULT 0,
			total_dropped INTEGER NOT NULL DEFAULT 0,
			total_canceled INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveExecution appends a record to the execution audit log.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, record ExecutionRecord) error {
	query := `INSERT INTO executions
		(leg_id, security, side, delta, target, sell_all, seq, attempts, outcome, status, filled_qty, avg_fill_price, filled_value, err_msg, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.LegID,
		record.Security,
		record.Side,
		record.Delta.String(),
		record.Target.String(),
		boolToInt(record.SellAll),
		record.Seq,
		record.Attempts,
		record.Outcome,
		record.Status,
		record.FilledQty,
		record.AvgFillPrice.String(),
		record.FilledValue.String(),
		record.ErrMsg,
		record.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// GetExecutions returns execution records in a time range.
func (r *SQLiteRepository) GetExecutions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error) {
	query := `SELECT id, leg_id, security, side, delta, target, sell_all, seq, attempts, outcome, status, filled_qty, avg_fill_price, filled_value, err_msg, executed_at
		FROM executions WHERE executed_at BETWEEN ? AND ? ORDER BY executed_at DESC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanExecutions(rows)
}

// GetExecutionsBySecurity returns the most recent execution records for
// a security.
func (r *SQLiteRepository) GetExecutionsBySecurity(ctx context.Context, security string, limit int) ([]ExecutionRecord, error) {
	query := `SELECT id, leg_id, security, side, delta, target, sell_all, seq, attempts, outcome, status, filled_qty, avg_fill_price, filled_value, err_msg, executed_at
		FROM executions WHERE security = ? ORDER BY executed_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, security, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions by security: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanExecutions(rows)
}

func (r *SQLiteRepository) scanExecutions(rows *sql.Rows) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var delta, target, avgFillPrice, filledValue string
		var sellAll int
		var status, errMsg sql.NullString

		if err := rows.Scan(&rec.ID, &rec.LegID, &rec.Security, &rec.Side, &delta, &target, &sellAll, &rec.Seq, &rec.Attempts, &rec.Outcome, &status, &rec.FilledQty, &avgFillPrice, &filledValue, &errMsg, &rec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		var err error
		if rec.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("parse delta %q: %w", delta, err)
		}
		if rec.Target, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("parse target %q: %w", target, err)
		}
		if rec.AvgFillPrice, err = decimal.NewFromString(avgFillPrice); err != nil {
			return nil, fmt.Errorf("parse avg fill price %q: %w", avgFillPrice, err)
		}
		if rec.FilledValue, err = decimal.NewFromString(filledValue); err != nil {
			return nil, fmt.Errorf("parse filled value %q: %w", filledValue, err)
		}
		rec.SellAll = sellAll == 1
		rec.Status = status.String
		rec.ErrMsg = errMsg.String

		records = append(records, rec)
	}

	return records, rows.Err()
}

// SavePendingLegs replaces the pending-leg snapshot atomically.
func (r *SQLiteRepository) SavePendingLegs(ctx context.Context, legs []split.Leg) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_legs`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	query := `INSERT INTO pending_legs (id, security, delta, target, sell_all, exec_at, seq, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, leg := range legs {
		if _, err := tx.ExecContext(ctx, query,
			leg.ID,
			leg.Security,
			leg.Delta.String(),
			leg.Target.String(),
			boolToInt(leg.SellAll),
			leg.ExecAt,
			leg.Seq,
			leg.Attempts,
		); err != nil {
			return fmt.Errorf("insert pending leg: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// GetPendingLegs returns the persisted pending-leg snapshot.
func (r *SQLiteRepository) GetPendingLegs(ctx context.Context) ([]split.Leg, error) {
	query := `SELECT id, security, delta, target, sell_all, exec_at, seq, attempts
		FROM pending_legs ORDER BY exec_at, seq`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending legs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var legs []split.Leg
	for rows.Next() {
		var leg split.Leg
		var delta, target string
		var sellAll int

		if err := rows.Scan(&leg.ID, &leg.Security, &delta, &target, &sellAll, &leg.ExecAt, &leg.Seq, &leg.Attempts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if leg.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("parse delta %q: %w", delta, err)
		}
		if leg.Target, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("parse target %q: %w", target, err)
		}
		leg.SellAll = sellAll == 1

		legs = append(legs, leg)
	}

	return legs, rows.Err()
}

// SaveState saves the scheduler state.
func (r *SQLiteRepository) SaveState(ctx context.Context, state SchedulerState) error {
	query := `INSERT OR REPLACE INTO scheduler_state
		(id, last_updated, last_tick_at, total_executed, total_rescheduled, total_dropped, total_canceled)
		VALUES (1, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		state.LastUpdated,
		state.LastTickAt,
		state.TotalExecuted,
		state.TotalRescheduled,
		state.TotalDropped,
		state.TotalCanceled,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	return nil
}

// GetState returns the saved scheduler state.
func (r *SQLiteRepository) GetState(ctx context.Context) (*SchedulerState, error) {
	query := `SELECT id, last_updated, last_tick_at, total_executed, total_rescheduled, total_dropped, total_canceled
		FROM scheduler_state WHERE id = 1`

	var state SchedulerState
	err := r.db.QueryRowContext(ctx, query).Scan(
		&state.ID,
		&state.LastUpdated,
		&state.LastTickAt,
		&state.TotalExecuted,
		&state.TotalRescheduled,
		&state.TotalDropped,
		&state.TotalCanceled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	return &state, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
