// Package store provides audit persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stealth-trader/internal/models"
)

// SQLiteStore implements EventStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based event store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Positions opened by the engine
	CREATE TABLE IF NOT EXISTS positions_opened (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		notional_value REAL NOT NULL,
		stop_price REAL NOT NULL,
		take_profit_price REAL NOT NULL,
		opened_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Stage machine transitions, append-only
	CREATE TABLE IF NOT EXISTS stage_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		from_stage TEXT NOT NULL,
		to_stage TEXT NOT NULL,
		stop_price REAL NOT NULL,
		transitioned_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Terminal exit events, one per position
	CREATE TABLE IF NOT EXISTS exit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		exit_price REAL NOT NULL,
		reason TEXT NOT NULL,
		realized_pnl REAL NOT NULL,
		stage_at_exit TEXT NOT NULL,
		holding_seconds INTEGER NOT NULL,
		exited_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_exit_events_symbol ON exit_events(symbol);
	CREATE INDEX IF NOT EXISTS idx_exit_events_exited_at ON exit_events(exited_at);
	CREATE INDEX IF NOT EXISTS idx_stage_transitions_symbol ON stage_transitions(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordOpen persists a PositionOpened event.
func (s *SQLiteStore) RecordOpen(ctx context.Context, ev models.PositionOpened) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions_opened (symbol, quantity, notional_value, stop_price, take_profit_price, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Symbol, ev.Quantity, ev.NotionalValue, ev.StopPrice, ev.TakeProfitPrice, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("recording position open: %w", err)
	}
	return nil
}

// RecordStageTransition persists a stage advance.
func (s *SQLiteStore) RecordStageTransition(ctx context.Context, symbol string, from, to models.Stage, stopPrice float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_transitions (symbol, from_stage, to_stage, stop_price, transitioned_at)
		VALUES (?, ?, ?, ?, ?)`,
		symbol, string(from), string(to), stopPrice, at)
	if err != nil {
		return fmt.Errorf("recording stage transition: %w", err)
	}
	return nil
}

// RecordExit persists a terminal ExitEvent.
func (s *SQLiteStore) RecordExit(ctx context.Context, ev models.ExitEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exit_events (symbol, exit_price, reason, realized_pnl, stage_at_exit, holding_seconds, exited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Symbol, ev.ExitPrice, string(ev.Reason), ev.RealizedPnL, string(ev.StageAtExit),
		int64(ev.HoldingDuration.Seconds()), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("recording exit event: %w", err)
	}
	return nil
}

// GetExits returns exit history matching the filter, newest first.
func (s *SQLiteStore) GetExits(ctx context.Context, filter ExitFilter) ([]models.ExitEvent, error) {
	query := `SELECT symbol, exit_price, reason, realized_pnl, stage_at_exit, holding_seconds, exited_at
		FROM exit_events WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Reason != "" {
		query += " AND reason = ?"
		args = append(args, string(filter.Reason))
	}
	if !filter.StartTime.IsZero() {
		query += " AND exited_at >= ?"
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		query += " AND exited_at <= ?"
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY exited_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exit events: %w", err)
	}
	defer rows.Close()

	var events []models.ExitEvent
	for rows.Next() {
		var ev models.ExitEvent
		var reason, stage string
		var holdingSeconds int64
		if err := rows.Scan(&ev.Symbol, &ev.ExitPrice, &reason, &ev.RealizedPnL, &stage, &holdingSeconds, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning exit event: %w", err)
		}
		ev.Reason = models.ExitReason(strings.ToUpper(reason))
		ev.StageAtExit = models.Stage(strings.ToUpper(stage))
		ev.HoldingDuration = time.Duration(holdingSeconds) * time.Second
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
