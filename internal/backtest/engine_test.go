package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"tradelab/internal/cache"
	"tradelab/internal/domain"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
)

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dec1 = time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
)

type fakeStore struct {
	mu      sync.Mutex
	series  map[string]*domain.Series
	errs    map[string]error
	fetches int
}

func (f *fakeStore) Fetch(_ context.Context, id string, iv domain.Interval, _, _ time.Time) (*domain.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	s, ok := f.series[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.Series{InstrumentID: id, Interval: iv, Bars: s.Bars}, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type failingCache struct{}

func (failingCache) Get(context.Context, cache.Key) (*domain.BacktestResult, bool, error) {
	return nil, false, errors.New("connection refused")
}
func (failingCache) Put(context.Context, cache.Key, *domain.BacktestResult, time.Duration) error {
	return errors.New("connection refused")
}
func (failingCache) Invalidate(context.Context, string) (int, error) {
	return 0, errors.New("connection refused")
}

func wave(n int) *domain.Series {
	s := &domain.Series{Interval: domain.Interval1d}
	for i := 0; i < n; i++ {
		c := 100 + 12*math.Sin(float64(i)/6) + 3*math.Sin(float64(i)/1.7)
		s.Bars = append(s.Bars, domain.Bar{Timestamp: jan1.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c})
	}
	return s
}

func newEngine(fs *fakeStore, c cache.Cache) *Engine {
	return NewEngine(fs, c, builtins.NewRegistry(), Config{})
}

func rsiRequest(id string) Request {
	p, _ := strategy.Default(strategy.KindRSI)
	return Request{InstrumentID: id, StrategyID: "rsi", Params: p, Start: jan1, End: dec1}
}

func TestRunDeterministic(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"AAPL": wave(300)}}
	e := newEngine(fs, cache.NewMemory())

	req := rsiRequest("AAPL")
	req.BypassCache = true
	a, err := e.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := e.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("two uncached runs on the same input differ")
	}
	if fs.count() != 2 {
		t.Errorf("fetches = %d, want 2 with the cache bypassed", fs.count())
	}
	if a.TradeCount == 0 {
		t.Error("expected trades on an oscillating series")
	}
	if a.Interval != domain.Interval1d || a.BarCount != 300 || a.ParametersHash == "" {
		t.Errorf("result header = %s/%d/%q", a.Interval, a.BarCount, a.ParametersHash)
	}
}

func TestRunCacheHit(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"AAPL": wave(300)}}
	e := newEngine(fs, cache.NewMemory())
	ctx := context.Background()

	first, err := e.Run(ctx, rsiRequest("aapl"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := e.Run(ctx, rsiRequest("AAPL"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fs.count() != 1 {
		t.Errorf("fetches = %d, want 1 after a cache hit", fs.count())
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached result differs from the computed one")
	}

	if n, _ := e.Invalidate(ctx, "aapl"); n != 1 {
		t.Errorf("Invalidate removed %d entries, want 1", n)
	}
	if _, err := e.Run(ctx, rsiRequest("AAPL")); err != nil {
		t.Fatal(err)
	}
	if fs.count() != 2 {
		t.Errorf("fetches = %d, want 2 after invalidation", fs.count())
	}
}

func TestRunNoData(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"EMPTY": {}}}
	mem := cache.NewMemory()
	e := newEngine(fs, mem)

	_, err := e.Run(context.Background(), rsiRequest("EMPTY"))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Run on empty series = %v, want ErrNoData", err)
	}
	if mem.Len() != 0 {
		t.Errorf("empty result was cached (%d entries)", mem.Len())
	}
}

func TestRunInsufficientData(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"SHORT": wave(10)}}
	e := newEngine(fs, cache.NewMemory())

	res, err := e.Run(context.Background(), rsiRequest("SHORT"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.InsufficientData || res.TradeCount != 0 || len(res.Trades) != 0 {
		t.Errorf("result = insufficient %v, %d trades; want flagged with none", res.InsufficientData, res.TradeCount)
	}
	if res.Trades == nil {
		t.Error("Trades should be an empty slice, not nil")
	}
}

func TestRunValidatesBeforeFetch(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"AAPL": wave(300)}}
	e := newEngine(fs, nil)

	bad := &strategy.RSIParams{Period: 500, Oversold: 30, Overbought: 70}
	cases := map[string]Request{
		"out of range":     {InstrumentID: "AAPL", StrategyID: "rsi", Params: bad, Start: jan1, End: dec1},
		"unknown strategy": {InstrumentID: "AAPL", StrategyID: "nope", Start: jan1, End: dec1},
		"missing id":       {StrategyID: "rsi", Start: jan1, End: dec1},
		"reversed dates":   {InstrumentID: "AAPL", StrategyID: "rsi", Start: dec1, End: jan1},
		"bad interval":     {InstrumentID: "AAPL", StrategyID: "rsi", Start: jan1, End: dec1, Interval: "3d"},
	}
	for name, req := range cases {
		_, err := e.Run(context.Background(), req)
		if !IsValidation(err) {
			t.Errorf("%s: err = %v, want a validation error", name, err)
		}
	}
	if fs.count() != 0 {
		t.Errorf("fetches = %d, want 0 for rejected requests", fs.count())
	}
}

func TestRunFetchErrors(t *testing.T) {
	fs := &fakeStore{
		series: map[string]*domain.Series{},
		errs:   map[string]error{"DOWN": store.ErrUnavailable},
	}
	e := newEngine(fs, nil)

	_, err := e.Run(context.Background(), rsiRequest("GHOST"))
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown instrument err = %v, want FetchError wrapping ErrNotFound", err)
	}

	_, err = e.Run(context.Background(), rsiRequest("DOWN"))
	if !errors.As(err, &fe) || !fe.Transient() {
		t.Errorf("unavailable store err = %v, want transient FetchError", err)
	}
}

func TestRunSurvivesCacheFailure(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"AAPL": wave(300)}}
	e := newEngine(fs, failingCache{})

	res, err := e.Run(context.Background(), rsiRequest("AAPL"))
	if err != nil {
		t.Fatalf("Run with a failing cache: %v", err)
	}
	if res.BarCount != 300 {
		t.Errorf("BarCount = %d, want 300", res.BarCount)
	}
}

func TestRunDefaultsParams(t *testing.T) {
	fs := &fakeStore{series: map[string]*domain.Series{"AAPL": wave(300)}}
	e := newEngine(fs, nil)

	res, err := e.Run(context.Background(), Request{InstrumentID: "AAPL", StrategyID: "momentum", Start: jan1, End: dec1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p, _ := strategy.Default(strategy.KindMomentum)
	if res.ParametersHash != strategy.Hash(p) {
		t.Errorf("ParametersHash = %s, want the default momentum hash", res.ParametersHash)
	}
}

func TestRunRejectsUnorderedSeries(t *testing.T) {
	s := wave(60)
	s.Bars[30].Timestamp = s.Bars[29].Timestamp
	fs := &fakeStore{series: map[string]*domain.Series{"DUP": s}}
	c := cache.NewMemory()
	e := newEngine(fs, c)

	_, err := e.Run(context.Background(), rsiRequest("DUP"))
	if !errors.Is(err, ErrMalformedSeries) {
		t.Fatalf("Run on duplicated timestamps = %v, want ErrMalformedSeries", err)
	}
	if c.Len() != 0 {
		t.Errorf("cache holds %d entries after a rejected series", c.Len())
	}
}

type listingStore struct {
	*fakeStore
	intervals []domain.Interval
}

func (l *listingStore) ListSymbols(_ context.Context, iv domain.Interval) ([]string, error) {
	l.intervals = append(l.intervals, iv)
	if iv == domain.Interval1m {
		return nil, store.ErrUnavailable
	}
	return []string{"AAPL", "MSFT"}, nil
}

func TestInstruments(t *testing.T) {
	ls := &listingStore{fakeStore: &fakeStore{}}
	e := newEngine(ls.fakeStore, nil)
	if _, err := e.Instruments(context.Background(), ""); !errors.Is(err, ErrListingUnsupported) {
		t.Errorf("Instruments on a plain store = %v, want ErrListingUnsupported", err)
	}

	e = NewEngine(ls, nil, builtins.NewRegistry(), Config{})
	ids, err := e.Instruments(context.Background(), "")
	if err != nil || !reflect.DeepEqual(ids, []string{"AAPL", "MSFT"}) {
		t.Fatalf("Instruments = %v, %v", ids, err)
	}
	if ls.intervals[0] != domain.Interval1d {
		t.Errorf("listed interval = %q, want the 1d default", ls.intervals[0])
	}
	if _, err := e.Instruments(context.Background(), "7m"); !IsValidation(err) {
		t.Errorf("Instruments(7m) = %v, want validation error", err)
	}
	if _, err := e.Instruments(context.Background(), domain.Interval1m); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Instruments(1m) = %v, want ErrUnavailable", err)
	}
}
