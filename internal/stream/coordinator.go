// Package stream fans a batch of instruments out to the backtest engine and
// reports each outcome as it completes.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Runner executes single backtests. *backtest.Engine satisfies it.
type Runner interface {
	Validate(req backtest.Request) (backtest.Request, error)
	Run(ctx context.Context, req backtest.Request) (*domain.BacktestResult, error)
}

// BatchRequest runs one strategy configuration over many instruments.
type BatchRequest struct {
	InstrumentIDs []string
	StrategyID    string
	Params        strategy.Params
	Start         time.Time
	End           time.Time
	Interval      domain.Interval
	BypassCache   bool
}

// Coordinator runs batches on a bounded worker pool.
type Coordinator struct {
	runner  Runner
	workers int
	log     *slog.Logger
}

// NewCoordinator creates a Coordinator. workers <= 0 selects DefaultWorkers.
func NewCoordinator(runner Runner, workers int, logger *slog.Logger) *Coordinator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{runner: runner, workers: workers, log: logger.With("component", "stream")}
}

// Stream validates req and starts the batch. A validation error is returned
// before any event is produced. The channel carries one start event, then a
// result or error event followed by a progress event per instrument in
// completion order, then one complete event, and is closed afterwards.
//
// Cancelling ctx stops submitting new instruments; runs already in flight
// finish in the background and the channel closes without a complete event.
func (c *Coordinator) Stream(ctx context.Context, req BatchRequest) (<-chan Event, error) {
	ids := uniqueIDs(req.InstrumentIDs)
	if len(ids) == 0 {
		return nil, &strategy.ValidationError{Field: "instrument_ids", Reason: "at least one instrument is required"}
	}
	tmpl, err := c.runner.Validate(backtest.Request{
		InstrumentID: ids[0],
		StrategyID:   req.StrategyID,
		Params:       req.Params,
		Start:        req.Start,
		End:          req.End,
		Interval:     req.Interval,
		BypassCache:  req.BypassCache,
	})
	if err != nil {
		return nil, err
	}

	// Room for every event, so a slow consumer never stalls the workers.
	out := make(chan Event, 2*len(ids)+2)
	go c.run(ctx, tmpl, ids, out)
	return out, nil
}

type outcome struct {
	id  string
	res *domain.BacktestResult
	err error
}

func (c *Coordinator) run(ctx context.Context, tmpl backtest.Request, ids []string, out chan<- Event) {
	defer close(out)

	began := time.Now()
	total := len(ids)
	log := c.log.With("batch", uuid.NewString(), "strategy", tmpl.StrategyID, "instruments", total)
	log.Info("batch started")

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Type: EventStart, Start: &Start{
		Total:      total,
		StrategyID: tmpl.StrategyID,
		StartDate:  tmpl.Start.Format(time.DateOnly),
		EndDate:    tmpl.End.Format(time.DateOnly),
	}}) {
		return
	}

	results := make(chan outcome, total)
	go c.submit(ctx, tmpl, ids, results)

	var (
		completed int
		ok        []*domain.BacktestResult
		failed    int
	)
	for completed < total {
		var o outcome
		select {
		case <-ctx.Done():
			log.Info("batch cancelled", "completed", completed)
			return
		case r, open := <-results:
			if !open {
				// Submission stopped early; only possible after cancellation.
				return
			}
			o = r
		}

		completed++
		ev := Event{Type: EventResult, Result: o.res}
		if o.err != nil {
			failed++
			ev = Event{Type: EventError, Error: &Failure{InstrumentID: o.id, Error: o.err.Error()}}
			log.Warn("instrument failed", "instrument", o.id, "error", o.err)
		} else {
			ok = append(ok, o.res)
		}
		if !send(ev) {
			return
		}
		if !send(Event{Type: EventProgress, Progress: &Progress{
			Completed: completed,
			Total:     total,
			Percent:   float64(completed) / float64(total) * 100,
		}}) {
			return
		}
	}

	summary := Summarize(ok, failed, total)
	elapsed := time.Since(began)
	send(Event{Type: EventComplete, Complete: &Complete{Summary: summary, ElapsedSeconds: elapsed.Seconds()}})
	log.Info("batch complete", "successful", summary.Successful, "failed", summary.Failed, "elapsed", elapsed)
}

// submit feeds ids to the pool until done or ctx is cancelled, then waits for
// in-flight runs and closes results.
func (c *Coordinator) submit(ctx context.Context, tmpl backtest.Request, ids []string, results chan<- outcome) {
	var g errgroup.Group
	sem := make(chan struct{}, c.workers)
	// Runs are never cancelled mid-flight.
	runCtx := context.WithoutCancel(ctx)

loop:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-sem
			break
		}

		req := tmpl
		req.InstrumentID = id
		g.Go(func() error {
			defer func() { <-sem }()
			res, err := c.runner.Run(runCtx, req)
			results <- outcome{id: id, res: res, err: err}
			return nil
		})
	}

	g.Wait()
	close(results)
}

// RunBatch runs req to completion and buffers the outcome.
func (c *Coordinator) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	events, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	br := &BatchResult{
		Results: make(map[string]*domain.BacktestResult),
		Errors:  make(map[string]string),
	}
	done := false
	for ev := range events {
		switch ev.Type {
		case EventResult:
			br.Results[ev.Result.InstrumentID] = ev.Result
		case EventError:
			br.Errors[ev.Error.InstrumentID] = ev.Error.Error
		case EventComplete:
			br.Summary = ev.Complete.Summary
			br.ElapsedSeconds = ev.Complete.ElapsedSeconds
			done = true
		}
	}
	if !done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("batch stream ended without completing")
	}
	return br, nil
}

// BatchResult is the buffered form of a batch stream.
type BatchResult struct {
	Summary        Summary                           `json:"summary"`
	Results        map[string]*domain.BacktestResult `json:"results_by_instrument"`
	Errors         map[string]string                 `json:"errors"`
	ElapsedSeconds float64                           `json:"elapsed_seconds"`
}

// Summarize aggregates successful results. Failures only count towards
// Failed.
func Summarize(results []*domain.BacktestResult, failed, total int) Summary {
	s := Summary{Successful: len(results), Failed: failed, Total: total}
	if len(results) == 0 {
		return s
	}
	var sum float64
	for _, r := range results {
		sum += r.TotalReturnPct
		s.TotalTrades += r.TradeCount
		if s.Best == nil || r.TotalReturnPct > s.Best.TotalReturnPct {
			s.Best = &Performer{InstrumentID: r.InstrumentID, TotalReturnPct: r.TotalReturnPct}
		}
		if s.Worst == nil || r.TotalReturnPct < s.Worst.TotalReturnPct {
			s.Worst = &Performer{InstrumentID: r.InstrumentID, TotalReturnPct: r.TotalReturnPct}
		}
	}
	s.AvgReturn = sum / float64(len(results))
	return s
}

// uniqueIDs upper-cases ids and drops blanks and repeats, keeping the first
// occurrence.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
