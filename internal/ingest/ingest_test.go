package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/notify"
	"tradelab/internal/store"
)

var jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Ingested
	err  error
}

func (r *recorder) Publish(_ context.Context, msg notify.Ingested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReadCSV(t *testing.T) {
	in := `Date,Open,High,Low,Close,Volume
2024-01-02,10,11,9,10.5,1000
2024-01-03T00:00:00Z,10.5,12,10,11.5,
1704326400,11.5,12,11,11.8,2500.0
`
	bars, err := ReadCSV(strings.NewReader(in), "aapl")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	if !bars[0].Timestamp.Equal(jan2) || bars[0].Close != 10.5 || bars[0].Volume != 1000 || bars[0].Symbol != "aapl" {
		t.Errorf("bar 0 = %+v", bars[0])
	}
	if bars[1].Volume != 0 {
		t.Errorf("bar 1 volume = %d, want 0 for a blank cell", bars[1].Volume)
	}
	if want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC); !bars[2].Timestamp.Equal(want) || bars[2].Volume != 2500 {
		t.Errorf("bar 2 = %+v, want unix timestamp %v", bars[2], want)
	}
}

func TestReadCSVSymbolColumn(t *testing.T) {
	in := "ticker,timestamp,open,high,low,close\nSPY,1704153600000,1,2,1,2\nQQQ,2024-01-02 15:30:00,3,4,3,4\n"
	bars, err := ReadCSV(strings.NewReader(in), "")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if bars[0].Symbol != "SPY" || !bars[0].Timestamp.Equal(jan2) {
		t.Errorf("bar 0 = %+v, want SPY with millisecond timestamp", bars[0])
	}
	if bars[1].Symbol != "QQQ" || bars[1].Timestamp.Hour() != 15 {
		t.Errorf("bar 1 = %+v", bars[1])
	}
}

func TestReadCSVRejects(t *testing.T) {
	tests := []struct {
		name, in, symbol, want string
	}{
		{"empty", "", "X", "empty"},
		{"missing column", "date,open,high,low\n", "X", `"close"`},
		{"no symbol", "date,open,high,low,close\n", "", "no symbol"},
		{"bad price", "date,open,high,low,close\n2024-01-02,1,2,1,abc\n", "X", "line 2: close"},
		{"bad time", "date,open,high,low,close\nyesterday,1,2,1,2\n", "X", "unparseable"},
		{"high below low", "date,open,high,low,close\n2024-01-02,2,1,3,2\n", "X", "below low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in), tt.symbol)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ReadCSV() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestImporterWrite(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	rec := &recorder{}
	im := NewImporter(ps, rec, quiet())

	bars := []domain.Bar{
		{Symbol: "msft", Timestamp: jan2, Open: 1, High: 1, Low: 1, Close: 1},
		{Symbol: "AAPL", Timestamp: jan2.AddDate(0, 0, 1), Open: 2, High: 2, Low: 2, Close: 2},
		{Symbol: "AAPL", Timestamp: jan2, Open: 3, High: 3, Low: 3, Close: 3},
	}
	sums, err := im.Write(context.Background(), domain.Interval1d, bars)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(sums) != 2 || sums[0].InstrumentID != "AAPL" || sums[0].Bars != 2 || !sums[0].Start.Equal(jan2) {
		t.Errorf("summaries = %+v", sums)
	}
	if len(rec.msgs) != 2 || rec.msgs[1].InstrumentID != "MSFT" || rec.msgs[0].Interval != "1d" {
		t.Errorf("published = %+v", rec.msgs)
	}

	series, err := ps.Fetch(context.Background(), "AAPL", domain.Interval1d, jan2, jan2.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if series.Len() != 2 || series.First().Close != 3 {
		t.Errorf("stored series = %+v", series.Bars)
	}
}

func TestImporterPublishFailureIsNotFatal(t *testing.T) {
	im := NewImporter(store.NewParquetStore(t.TempDir()), &recorder{err: errors.New("nats down")}, quiet())
	_, err := im.Write(context.Background(), domain.Interval1d, []domain.Bar{{Symbol: "X", Timestamp: jan2, Open: 1, High: 1, Low: 1, Close: 1}})
	if err != nil {
		t.Errorf("Write error = %v, want nil despite publish failure", err)
	}

	if _, err := im.Write(context.Background(), domain.Interval1d, []domain.Bar{{Timestamp: jan2}}); err == nil {
		t.Error("Write should reject bars without a symbol")
	}
}

type sourceStore map[string]int

func (s sourceStore) Fetch(_ context.Context, id string, iv domain.Interval, start, _ time.Time) (*domain.Series, error) {
	if id == "FAIL" {
		return nil, fmt.Errorf("%w: timeout", store.ErrUnavailable)
	}
	n, ok := s[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	series := &domain.Series{InstrumentID: id, Interval: iv}
	for i := 0; i < n; i++ {
		series.Bars = append(series.Bars, domain.Bar{Timestamp: start.AddDate(0, 0, i), Open: 5, High: 5, Low: 5, Close: 5})
	}
	return series, nil
}

func TestImporterPull(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	rec := &recorder{}
	im := NewImporter(ps, rec, quiet())
	src := sourceStore{"SPY": 5, "QQQ": 3}

	sums, err := im.Pull(context.Background(), src, []string{"spy", "QQQ", "NOPE", ""}, domain.Interval1d, jan2, jan2.AddDate(0, 1, 0), 2)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(sums) != 2 || sums[0].InstrumentID != "QQQ" || sums[1].Bars != 5 {
		t.Errorf("summaries = %+v", sums)
	}
	if len(rec.msgs) != 2 {
		t.Errorf("published %d notices, want 2", len(rec.msgs))
	}

	if _, err := im.Pull(context.Background(), src, []string{"FAIL"}, domain.Interval1d, jan2, jan2, 1); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Pull error = %v, want ErrUnavailable", err)
	}
}
