package store

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradelab/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", domain.Interval1d, 2024)
	wantBarPath := filepath.Join("/data", "1d", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}
}

func sampleBars(symbol string) []domain.Bar {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	return []domain.Bar{
		{Symbol: symbol, Timestamp: day(2023, 12, 29), Open: 190, High: 191, Low: 189, Close: 190.5, Volume: 40000000, TradeCount: 400000, VWAP: 190.2},
		{Symbol: symbol, Timestamp: day(2024, 1, 3), Open: 185.5, High: 187, Low: 185, Close: 186, Volume: 45000000, TradeCount: 450000, VWAP: 185.75},
		{Symbol: symbol, Timestamp: day(2024, 1, 2), Open: 185, High: 186.5, Low: 184, Close: 185.5, Volume: 50000000, TradeCount: 500000, VWAP: 185.25},
		{Symbol: symbol, Timestamp: day(2024, 2, 1), Open: 180, High: 181, Low: 179, Close: 180.5, Volume: 30000000, TradeCount: 300000, VWAP: 180.1},
	}
}

type writerStore interface {
	BarStore
	BarWriter
	SymbolLister
}

// exerciseStore runs the shared BarStore contract against s.
func exerciseStore(t *testing.T, s writerStore) {
	t.Helper()
	ctx := context.Background()

	if err := s.WriteBars(ctx, domain.Interval1d, sampleBars("aapl")); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	series, err := s.Fetch(ctx, "AAPL", domain.Interval1d, start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if series.Len() != 3 {
		t.Fatalf("Fetch returned %d bars, want 3", series.Len())
	}
	if err := series.Validate(); err != nil {
		t.Errorf("fetched series is not ordered: %v", err)
	}
	if got := series.Bars[1]; got.Close != 185.5 || got.Volume != 50000000 || !got.Timestamp.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Bars[1] = %+v", got)
	}

	// Rewriting a bar replaces it.
	fix := sampleBars("AAPL")[2]
	fix.Close = 999
	if err := s.WriteBars(ctx, domain.Interval1d, []domain.Bar{fix}); err != nil {
		t.Fatalf("WriteBars overwrite: %v", err)
	}
	series, _ = s.Fetch(ctx, "AAPL", domain.Interval1d, start, end)
	if series.Len() != 3 || series.Bars[1].Close != 999 {
		t.Errorf("after overwrite: %d bars, Bars[1].Close = %v", series.Len(), series.Bars[1].Close)
	}

	// Known instrument, empty range.
	empty, err := s.Fetch(ctx, "AAPL", domain.Interval1d, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || empty.Len() != 0 {
		t.Errorf("empty range = %d bars, %v; want 0, nil", empty.Len(), err)
	}

	if _, err := s.Fetch(ctx, "NOPE", domain.Interval1d, start, end); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch unknown = %v, want ErrNotFound", err)
	}
	if _, err := s.Fetch(ctx, "AAPL", domain.Interval1h, start, end); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch at unstored interval = %v, want ErrNotFound", err)
	}

	syms, err := s.ListSymbols(ctx, domain.Interval1d)
	if err != nil || len(syms) != 1 || syms[0] != "AAPL" {
		t.Errorf("ListSymbols = %v, %v; want [AAPL]", syms, err)
	}
}

func TestParquetStore(t *testing.T) {
	exerciseStore(t, NewParquetStore(t.TempDir()))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bars.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	b, err := Open(Options{Driver: "parquet", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open(parquet): %v", err)
	}
	if _, ok := b.(BarWriter); !ok {
		t.Error("parquet backend should be writable")
	}
	if _, err := Open(Options{Driver: "mongo"}); err == nil {
		t.Error("Open(mongo) should fail")
	}
	if _, err := Open(Options{Driver: "parquet"}); err == nil {
		t.Error("Open(parquet) without a data dir should fail")
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresOption{User: "bt", Password: "p@ss", Database: "bars", Params: map[string]string{"connect_timeout": "5"}}.dsn()
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("dsn %q does not parse: %v", dsn, err)
	}
	if u.Host != "localhost:5432" || u.Path != "/bars" {
		t.Errorf("dsn host/path = %s %s", u.Host, u.Path)
	}
	if pw, _ := u.User.Password(); pw != "p@ss" {
		t.Errorf("password = %q", pw)
	}
	if u.Query().Get("sslmode") != "disable" || u.Query().Get("connect_timeout") != "5" {
		t.Errorf("query = %s", u.RawQuery)
	}

	raw := "postgres://x@db/y"
	if got := (PostgresOption{ConnString: raw, Host: "ignored"}).dsn(); got != raw {
		t.Errorf("ConnString not used verbatim: %s", got)
	}
}

func TestAlpacaTimeFrame(t *testing.T) {
	for _, iv := range []domain.Interval{domain.Interval1m, domain.Interval5m, domain.Interval15m, domain.Interval1h, domain.Interval4h, domain.Interval1d} {
		if _, err := alpacaTimeFrame(iv); err != nil {
			t.Errorf("alpacaTimeFrame(%s): %v", iv, err)
		}
	}
	if _, err := alpacaTimeFrame("2w"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("alpacaTimeFrame(2w) = %v, want unsupported", err)
	}
}

func TestNewSeriesDedup(t *testing.T) {
	bars := sampleBars("X")
	dup := bars[1]
	dup.Close = 1
	s := newSeries("X", domain.Interval1d, append(bars, dup))
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if s.Bars[2].Close != 1 {
		t.Errorf("duplicate should keep the last bar, got close %v", s.Bars[2].Close)
	}
}
