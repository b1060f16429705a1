package strategy

import (
	"time"

	"tradelab/internal/domain"
)

// Rules is the per-strategy decision function driven by Walk. Both methods
// see bar i only; indicator warm-up values are NaN and must evaluate false.
type Rules interface {
	// Enter reports whether a FLAT strategy should open a position at bar i.
	Enter(i int) (bool, string)
	// Exit reports whether a HOLDING strategy should close pos at bar i.
	Exit(i int, pos domain.Position) (bool, string)
}

// Walk runs the FLAT/HOLDING state machine shared by every strategy and
// returns the emitted signals.
//
// Per bar, while HOLDING, a stop-loss breach emits EXIT with reason
// "stop_loss" ahead of Rules.Exit, which is not consulted on that bar. A bar
// that closes a position never opens one. While FLAT, Rules.Enter is only
// consulted once the cooldown after the last exit has elapsed. These rules
// mirror simulator.Simulate so both agree on the position state.
func Walk(series *domain.Series, p Params, rules Rules) []domain.Signal {
	if series.Len() < p.WarmUp() {
		return nil
	}
	risk := p.RiskParams()

	var (
		signals  []domain.Signal
		pos      domain.Position
		lastExit time.Time
		exited   bool
	)
	for i, bar := range series.Bars {
		if pos.Open {
			reason := string(domain.ExitStopLoss)
			ok := risk.StopLossBreached(pos.EntryPrice, bar.Close)
			if !ok {
				ok, reason = rules.Exit(i, pos)
			}
			if ok {
				signals = append(signals, domain.Signal{Index: i, Timestamp: bar.Timestamp, Kind: domain.SignalExit, Reason: reason})
				pos = domain.Position{}
				lastExit, exited = bar.Timestamp, true
			}
			continue
		}

		if exited && !risk.CooldownElapsed(lastExit, bar.Timestamp) {
			continue
		}
		if ok, reason := rules.Enter(i); ok {
			signals = append(signals, domain.Signal{Index: i, Timestamp: bar.Timestamp, Kind: domain.SignalEnter, Reason: reason})
			pos = domain.Position{EntryPrice: bar.Close, EntryTime: bar.Timestamp, Open: true}
		}
	}
	return signals
}
