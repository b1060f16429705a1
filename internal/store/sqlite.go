package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tradelab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var (
	_ BarStore     = (*SQLiteStore)(nil)
	_ BarWriter    = (*SQLiteStore)(nil)
	_ SymbolLister = (*SQLiteStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol      TEXT    NOT NULL,
	timeframe   TEXT    NOT NULL,
	ts          INTEGER NOT NULL,
	open        REAL    NOT NULL,
	high        REAL    NOT NULL,
	low         REAL    NOT NULL,
	close       REAL    NOT NULL,
	volume      INTEGER NOT NULL DEFAULT 0,
	trade_count INTEGER NOT NULL DEFAULT 0,
	vwap        REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, ts)
)`

// SQLiteStore implements BarStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bars table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteBars upserts bars in one transaction.
func (s *SQLiteStore) WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO bars
		(symbol, timeframe, ts, open, high, low, close, volume, trade_count, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(b.Symbol), string(interval), b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP); err != nil {
			return fmt.Errorf("insert %s@%s: %w", b.Symbol, b.Timestamp.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// Fetch selects the bars in range. An instrument with no rows at this
// interval is ErrNotFound.
func (s *SQLiteStore) Fetch(ctx context.Context, instrumentID string, interval domain.Interval, start, end time.Time) (*domain.Series, error) {
	symbol := strings.ToUpper(instrumentID)

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bars WHERE symbol = ? AND timeframe = ?)`, symbol, string(interval)).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w: %v", ErrUnavailable, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT ts, open, high, low, close, volume, trade_count, vwap
		FROM bars WHERE symbol = ? AND timeframe = ? AND ts BETWEEN ? AND ? ORDER BY ts`,
		symbol, string(interval), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b := domain.Bar{Symbol: symbol}
		var ts int64
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		b.Timestamp = time.UnixMilli(ts).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w: %v", ErrUnavailable, err)
	}
	return newSeries(symbol, interval, bars), nil
}

// ListSymbols returns the distinct symbols stored at interval.
func (s *SQLiteStore) ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars WHERE timeframe = ? ORDER BY symbol`, string(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
