// Package backtest runs one instrument through the fetch, indicator,
// evaluation, simulation and metrics stages, caching the result.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tradelab/internal/cache"
	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/performance"
	"tradelab/internal/simulator"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

// Request describes a single backtest.
type Request struct {
	InstrumentID string
	StrategyID   string
	Params       strategy.Params
	Start        time.Time
	End          time.Time
	Interval     domain.Interval // empty means the engine default
	// BypassCache skips both the cache read and the cache write.
	BypassCache bool
}

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	CacheTTL        time.Duration
	InitialCapital  float64
	DefaultInterval domain.Interval
	Logger          *slog.Logger
}

// Engine is safe for concurrent use; each Run is independent.
type Engine struct {
	bars     store.BarStore
	cache    cache.Cache
	registry *strategy.Registry
	cfg      Config
	log      *slog.Logger
}

// NewEngine wires an Engine. A nil cache disables caching.
func NewEngine(bars store.BarStore, c cache.Cache, registry *strategy.Registry, cfg Config) *Engine {
	if c == nil {
		c = cache.Nop{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	if cfg.DefaultInterval == "" {
		cfg.DefaultInterval = domain.Interval1d
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		bars:     bars,
		cache:    c,
		registry: registry,
		cfg:      cfg,
		log:      log.With("component", "backtest"),
	}
}

// Registry returns the strategies the engine can run.
func (e *Engine) Registry() *strategy.Registry { return e.registry }

// Invalidate drops every cached result for instrumentID.
func (e *Engine) Invalidate(ctx context.Context, instrumentID string) (int, error) {
	return e.cache.Invalidate(ctx, strings.ToUpper(instrumentID))
}

// Instruments lists the instruments the bar store holds at interval, or at
// the default interval when it is empty.
func (e *Engine) Instruments(ctx context.Context, interval domain.Interval) ([]string, error) {
	if interval == "" {
		interval = e.cfg.DefaultInterval
	}
	if !interval.Valid() {
		return nil, &strategy.ValidationError{Field: "interval", Reason: fmt.Sprintf("unsupported interval %q", interval)}
	}
	lister, ok := e.bars.(store.SymbolLister)
	if !ok {
		return nil, ErrListingUnsupported
	}
	ids, err := lister.ListSymbols(ctx, interval)
	if err != nil {
		return nil, fmt.Errorf("listing %s instruments: %w", interval, err)
	}
	return ids, nil
}

// Validate normalises req and checks it without touching storage. It returns
// a *strategy.ValidationError on rejection.
func (e *Engine) Validate(req Request) (Request, error) {
	req.InstrumentID = strings.ToUpper(strings.TrimSpace(req.InstrumentID))
	if req.InstrumentID == "" {
		return req, &strategy.ValidationError{Field: "instrument_id", Reason: "required"}
	}
	if req.Interval == "" {
		req.Interval = e.cfg.DefaultInterval
	}
	if !req.Interval.Valid() {
		return req, &strategy.ValidationError{Field: "interval", Reason: fmt.Sprintf("unsupported interval %q", req.Interval)}
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return req, &strategy.ValidationError{Field: "start_date", Reason: "start and end dates are required"}
	}
	if !req.Start.Before(req.End) {
		return req, &strategy.ValidationError{Field: "start_date", Reason: "must be before end_date"}
	}
	if req.Params == nil {
		p, err := strategy.Default(strategy.Kind(req.StrategyID))
		if err != nil {
			return req, err
		}
		req.Params = p
	}
	if _, err := e.registry.Lookup(req.StrategyID, req.Params); err != nil {
		return req, err
	}
	if err := strategy.Validate(req.Params); err != nil {
		return req, err
	}
	return req, nil
}

// Run executes one backtest. Stages run strictly in order: validate, cache
// lookup, fetch, indicators, signals, simulation, metrics, cache store. Cache
// failures are logged and treated as a miss.
func (e *Engine) Run(ctx context.Context, req Request) (*domain.BacktestResult, error) {
	req, err := e.Validate(req)
	if err != nil {
		return nil, err
	}
	strat, _ := e.registry.Get(req.StrategyID)
	key := cache.NewKey(req.InstrumentID, req.StrategyID, strategy.Normalize(req.Params), req.Start, req.End, req.Interval)
	log := e.log.With("instrument", req.InstrumentID, "strategy", req.StrategyID)

	if !req.BypassCache {
		res, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn("cache read failed", "error", err)
		case ok:
			log.Debug("cache hit")
			return res, nil
		}
	}

	began := time.Now()
	series, err := e.bars.Fetch(ctx, req.InstrumentID, req.Interval, req.Start, req.End)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{InstrumentID: req.InstrumentID, Err: err}
	}
	if series.Len() == 0 {
		return nil, fmt.Errorf("%s %s: %w", req.InstrumentID, req.Interval, ErrNoData)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSeries, err)
	}

	set := indicator.Compute(series, strat.Indicators(req.Params))
	signals, err := strat.Evaluate(series, set, req.Params)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s on %s: %w", req.StrategyID, req.InstrumentID, err)
	}
	trades := simulator.Simulate(series, signals, req.Params)
	metrics := performance.Summarize(series, trades, e.cfg.InitialCapital)

	res := assemble(req, series, trades, metrics)
	res.InsufficientData = series.Len() < req.Params.WarmUp()

	if !req.BypassCache {
		if err := e.cache.Put(ctx, key, res, e.cfg.CacheTTL); err != nil {
			log.Warn("cache write failed", "error", err)
		}
	}
	log.Debug("backtest complete",
		"bars", series.Len(),
		"signals", len(signals),
		"trades", len(trades),
		"elapsed", time.Since(began),
	)
	return res, nil
}

func assemble(req Request, series *domain.Series, trades []domain.Trade, m performance.Metrics) *domain.BacktestResult {
	if trades == nil {
		trades = []domain.Trade{}
	}
	return &domain.BacktestResult{
		InstrumentID:     req.InstrumentID,
		StrategyID:       req.StrategyID,
		ParametersHash:   strategy.Hash(req.Params),
		Interval:         req.Interval,
		Start:            req.Start.UTC(),
		End:              req.End.UTC(),
		BarCount:         series.Len(),
		TotalReturnPct:   m.TotalReturnPct,
		WinRatePct:       m.WinRatePct,
		TradeCount:       m.TradeCount,
		WinningTrades:    m.WinningTrades,
		LosingTrades:     m.LosingTrades,
		MaxDrawdownPct:   m.MaxDrawdownPct,
		SharpeRatio:      m.SharpeRatio,
		ProfitFactor:     m.ProfitFactor,
		AvgTradePct:      m.AvgTradePct,
		BuyHoldReturnPct: m.BuyHoldReturnPct,
		Trades:           trades,
	}
}
