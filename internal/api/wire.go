package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/strategy"
	"tradelab/internal/stream"
)

// RunRequest is the JSON body accepted by the backtest endpoints. Single runs
// read InstrumentID; batch and stream runs read InstrumentIDs.
type RunRequest struct {
	InstrumentID  string          `json:"instrument_id,omitempty"`
	InstrumentIDs []string        `json:"instrument_ids,omitempty"`
	StrategyID    string          `json:"strategy_id"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	StartDate     string          `json:"start_date"`
	EndDate       string          `json:"end_date"`
	Interval      string          `json:"interval,omitempty"`
	BypassCache   bool            `json:"bypass_cache,omitempty"`
}

// InvalidateResponse reports how many cached results were dropped.
type InvalidateResponse struct {
	InstrumentID string `json:"instrument_id"`
	Removed      int    `json:"removed"`
}

// InstrumentsResponse lists the instruments with stored bars. Interval is
// empty when the server default was used.
type InstrumentsResponse struct {
	Interval    domain.Interval `json:"interval,omitempty"`
	Instruments []string        `json:"instruments"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// parseDate accepts YYYY-MM-DD or RFC 3339. With wholeDay set, a bare date
// resolves to the last instant of that day so inclusive range filters keep
// its intraday bars.
func parseDate(field, s string, wholeDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &strategy.ValidationError{Field: field, Reason: "required"}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if wholeDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &strategy.ValidationError{Field: field, Reason: fmt.Sprintf("unparseable date %q", s)}
	}
	return t.UTC(), nil
}

// common decodes the fields shared by single and batch requests.
func (r RunRequest) common() (strategy.Params, time.Time, time.Time, error) {
	if r.StrategyID == "" {
		return nil, time.Time{}, time.Time{}, &strategy.ValidationError{Field: "strategy_id", Reason: "required"}
	}
	params, err := strategy.Decode(strategy.Kind(r.StrategyID), r.Parameters)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	start, err := parseDate("start_date", r.StartDate, false)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	end, err := parseDate("end_date", r.EndDate, true)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	return params, start, end, nil
}

// Single converts r into an engine request.
func (r RunRequest) Single() (backtest.Request, error) {
	params, start, end, err := r.common()
	if err != nil {
		return backtest.Request{}, err
	}
	return backtest.Request{
		InstrumentID: r.InstrumentID,
		StrategyID:   r.StrategyID,
		Params:       params,
		Start:        start,
		End:          end,
		Interval:     domain.Interval(r.Interval),
		BypassCache:  r.BypassCache,
	}, nil
}

// Batch converts r into a batch request. A lone InstrumentID is accepted as
// a batch of one.
func (r RunRequest) Batch() (stream.BatchRequest, error) {
	params, start, end, err := r.common()
	if err != nil {
		return stream.BatchRequest{}, err
	}
	ids := r.InstrumentIDs
	if len(ids) == 0 && r.InstrumentID != "" {
		ids = []string{r.InstrumentID}
	}
	return stream.BatchRequest{
		InstrumentIDs: ids,
		StrategyID:    r.StrategyID,
		Params:        params,
		Start:         start,
		End:           end,
		Interval:      domain.Interval(r.Interval),
		BypassCache:   r.BypassCache,
	}, nil
}
