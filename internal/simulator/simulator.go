// Package simulator replays strategy signals against a price series and
// produces the ledger of closed trades.
package simulator

import (
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Simulate walks series once and returns the closed trades. While a position
// is open, the stop-loss is checked on every bar before any EXIT signal. A
// bar that closes a position never opens one, and ENTER signals are dropped
// until the cooldown after the previous exit has elapsed. A position still
// open after the last bar is closed at its close with ExitEndOfData.
//
// Prices are filled at the bar close; the fee is charged on both legs.
func Simulate(series *domain.Series, signals []domain.Signal, p strategy.Params) []domain.Trade {
	if series.Len() == 0 || series.Len() < p.WarmUp() {
		return nil
	}
	risk := p.RiskParams()

	enters := make(map[time.Time]bool, len(signals))
	exits := make(map[time.Time]bool, len(signals))
	for _, s := range signals {
		ts := s.Timestamp.UTC()
		switch s.Kind {
		case domain.SignalEnter:
			enters[ts] = true
		case domain.SignalExit:
			exits[ts] = true
		}
	}

	var (
		trades   []domain.Trade
		pos      domain.Position
		lastExit time.Time
		exited   bool
	)
	closeAt := func(bar domain.Bar, reason domain.ExitReason) {
		trades = append(trades, fill(pos, bar, reason, risk.Fee()))
		pos = domain.Position{}
		lastExit, exited = bar.Timestamp, true
	}

	for _, bar := range series.Bars {
		ts := bar.Timestamp.UTC()
		if pos.Open {
			switch {
			case risk.StopLossBreached(pos.EntryPrice, bar.Close):
				closeAt(bar, domain.ExitStopLoss)
			case exits[ts]:
				closeAt(bar, domain.ExitSignal)
			}
			continue
		}
		if !enters[ts] {
			continue
		}
		if exited && !risk.CooldownElapsed(lastExit, bar.Timestamp) {
			continue
		}
		pos = domain.Position{EntryPrice: bar.Close, EntryTime: bar.Timestamp, Open: true}
	}

	if pos.Open {
		closeAt(series.Last(), domain.ExitEndOfData)
	}
	return trades
}

// fill closes pos at bar. The entry leg buys (1-f) of the committed capital
// worth of shares and the exit leg pays f of the proceeds, so
// pnl = (1-f)^2 * exit/entry - 1. FeePaid is the sum of both legs as a
// percentage of the committed capital.
func fill(pos domain.Position, bar domain.Bar, reason domain.ExitReason, f float64) domain.Trade {
	ratio := 0.0
	if pos.EntryPrice > 0 {
		ratio = bar.Close / pos.EntryPrice
	}
	gross := (1 - f) * ratio
	return domain.Trade{
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.EntryTime,
		ExitPrice:  bar.Close,
		ExitTime:   bar.Timestamp,
		ExitReason: reason,
		FeePaid:    (f + gross*f) * 100,
		PnLPct:     ((1-f)*gross - 1) * 100,
	}
}
