package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradelab/internal/domain"
)

// Compile-time interface checks.
var (
	_ BarStore     = (*ParquetStore)(nil)
	_ BarWriter    = (*ParquetStore)(nil)
	_ SymbolLister = (*ParquetStore)(nil)
)

// ParquetStore implements BarStore using Parquet files on disk, one file per
// symbol, interval and year:
//
//	<DataDir>/<interval>/<SYMBOL>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// Close is a no-op; files are opened per call.
func (s *ParquetStore) Close() error { return nil }

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// WriteBars merges bars into the per-year files of each symbol.
func (s *ParquetStore) WriteBars(_ context.Context, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if !interval.Valid() {
		return fmt.Errorf("invalid interval %q", interval)
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, interval, k.year)

		// Read existing records to merge.
		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// Fetch reads the year files overlapping [start, end]. An instrument with no
// directory at this interval is ErrNotFound.
func (s *ParquetStore) Fetch(ctx context.Context, instrumentID string, interval domain.Interval, start, end time.Time) (*domain.Series, error) {
	symbol := strings.ToUpper(instrumentID)
	dir := filepath.Join(s.DataDir, string(interval), symbol)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s %s: %w", symbol, interval, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w: %v", dir, ErrUnavailable, err)
	}

	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, interval, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w: %v", path, ErrUnavailable, err)
		}
		for _, r := range records {
			b := r.bar()
			if inRange(b.Timestamp, start, end) {
				bars = append(bars, b)
			}
		}
	}
	return newSeries(symbol, interval, bars), nil
}

// ListSymbols lists all symbols that have bar data at the given interval.
func (s *ParquetStore) ListSymbols(_ context.Context, interval domain.Interval) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(interval))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetStore) barPath(symbol string, interval domain.Interval, year int) string {
	return filepath.Join(s.DataDir, string(interval), strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
