// Package store defines the read-only bar source the backtest engine draws
// from, and the backends that implement it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tradelab/internal/domain"
)

var (
	// ErrNotFound reports an instrument the store has never seen.
	ErrNotFound = errors.New("instrument not found")
	// ErrUnavailable wraps transient backend failures. Callers may retry.
	ErrUnavailable = errors.New("bar store unavailable")
)

// BarStore reads OHLCV bars.
type BarStore interface {
	// Fetch returns the bars of instrumentID at interval with timestamps in
	// [start, end], ordered by time. A known instrument with no bars in range
	// yields an empty series, not an error.
	Fetch(ctx context.Context, instrumentID string, interval domain.Interval, start, end time.Time) (*domain.Series, error)
}

// BarWriter persists bars. Writing a bar that already exists replaces it.
type BarWriter interface {
	WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error
}

// SymbolLister enumerates the instruments a store holds at an interval.
type SymbolLister interface {
	ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error)
}

// Backend is an opened BarStore that holds resources until closed. Backends
// that also persist bars implement BarWriter.
type Backend interface {
	BarStore
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Driver     string // parquet, sqlite, postgres or alpaca
	DataDir    string
	SQLitePath string
	Postgres   PostgresOption
	Alpaca     AlpacaOptions
}

// Open returns the backend named by opts.Driver.
func Open(opts Options) (Backend, error) {
	switch opts.Driver {
	case "", "parquet":
		if opts.DataDir == "" {
			return nil, errors.New("parquet store: data dir is required")
		}
		return NewParquetStore(opts.DataDir), nil
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "postgres":
		return NewPostgresStore(opts.Postgres)
	case "alpaca":
		return NewAlpacaStore(opts.Alpaca), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// newSeries sorts bars by time and drops duplicate timestamps, keeping the
// last occurrence.
func newSeries(instrumentID string, interval domain.Interval, bars []domain.Bar) *domain.Series {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return &domain.Series{InstrumentID: instrumentID, Interval: interval, Bars: out}
}

func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}
