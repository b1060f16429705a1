package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradelab/internal/domain"
	"tradelab/internal/util"
)

var _ BarStore = (*AlpacaStore)(nil)

// AlpacaOptions configures an AlpacaStore.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "iex" or "sip"; defaults to "iex"
	// RateLimitPerMin caps API calls; zero means 200.
	RateLimitPerMin int
	// MaxAttempts bounds retries of a failed call; zero means 3.
	MaxAttempts int
}

// AlpacaStore serves bars straight from the Alpaca market-data API. Calls are
// rate limited and transient failures are retried here, so the engine never
// retries on its own.
type AlpacaStore struct {
	client      *marketdata.Client
	feed        string
	limiter     *util.RateLimiter
	maxAttempts int
}

// NewAlpacaStore builds an AlpacaStore from opts.
func NewAlpacaStore(opts AlpacaOptions) *AlpacaStore {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	feed := opts.Feed
	if feed == "" {
		feed = "iex"
	}
	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &AlpacaStore{
		client:      marketdata.NewClient(co),
		feed:        feed,
		limiter:     util.NewRateLimiter(perMin),
		maxAttempts: attempts,
	}
}

// Close is a no-op.
func (s *AlpacaStore) Close() error { return nil }

// Fetch requests the bars from Alpaca. The API does not distinguish unknown
// symbols from empty ranges, so an unknown symbol yields an empty series.
func (s *AlpacaStore) Fetch(ctx context.Context, instrumentID string, interval domain.Interval, start, end time.Time) (*domain.Series, error) {
	tf, err := alpacaTimeFrame(interval)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(instrumentID)

	var raw []marketdata.Bar
	err = util.Retry(ctx, s.maxAttempts, 500*time.Millisecond, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		var callErr error
		raw, callErr = s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      s.feed,
		})
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("alpaca GetBars %s: %w: %v", symbol, ErrUnavailable, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return newSeries(symbol, interval, bars), nil
}

func alpacaTimeFrame(iv domain.Interval) (marketdata.TimeFrame, error) {
	switch iv {
	case domain.Interval1m:
		return marketdata.OneMin, nil
	case domain.Interval5m:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Interval15m:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.Interval1h:
		return marketdata.OneHour, nil
	case domain.Interval4h:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case domain.Interval1d:
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("alpaca: unsupported interval %q", iv)
	}
}
