package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string                            { return s.name }
func (s *stubStrategy) Indicators(_ Params) []indicator.Request { return nil }
func (s *stubStrategy) Evaluate(_ *domain.Series, _ *indicator.Set, _ Params) ([]domain.Signal, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &stubStrategy{name: "test-strategy"}

	r.Register(s)

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "alpha"})
	r.Register(&stubStrategy{name: "beta"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "rsi"})

	p, _ := Default(KindRSI)
	if _, err := r.Lookup("rsi", p); err != nil {
		t.Fatalf("Lookup(rsi) error: %v", err)
	}

	var ve *ValidationError
	if _, err := r.Lookup("macd", p); !errors.As(err, &ve) || ve.Field != "strategy_id" {
		t.Errorf("Lookup(unknown) error = %v, want strategy_id ValidationError", err)
	}
	mp, _ := Default(KindMomentum)
	if _, err := r.Lookup("rsi", mp); !errors.As(err, &ve) || ve.Field != "parameters" {
		t.Errorf("Lookup with mismatched params error = %v, want parameters ValidationError", err)
	}
}

func TestDecodeDefaults(t *testing.T) {
	for _, k := range Kinds() {
		p, err := Decode(k, nil)
		if err != nil {
			t.Fatalf("Decode(%s, nil) error: %v", k, err)
		}
		if p.Kind() != k {
			t.Errorf("Decode(%s).Kind() = %s", k, p.Kind())
		}
		if p.WarmUp() < 1 {
			t.Errorf("%s WarmUp() = %d, want >= 1", k, p.WarmUp())
		}
	}
}

func TestDecodeOverlay(t *testing.T) {
	p, err := Decode(KindRSI, json.RawMessage(`{"period": 7, "stop_loss_pct": 10, "cooldown_value": 2, "cooldown_unit": "days"}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	rp := p.(*RSIParams)
	if rp.Period != 7 || rp.Oversold != 30 {
		t.Errorf("decoded period/oversold = %d/%v, want 7/30", rp.Period, rp.Oversold)
	}
	if got := rp.RiskParams().Cooldown(); got != 48*time.Hour {
		t.Errorf("Cooldown() = %v, want 48h", got)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		raw   string
		field string
	}{
		{"unknown field", KindRSI, `{"periodd": 3}`, "parameters"},
		{"below min", KindRSI, `{"period": 1}`, "period"},
		{"above max", KindBollinger, `{"std_dev": 9}`, "std_dev"},
		{"risk range", KindMomentum, `{"transaction_fee_pct": 50}`, "transaction_fee_pct"},
		{"bad enum", KindMACrossover, `{"ma_type": "wma"}`, "ma_type"},
		{"bad unit", KindRSI, `{"cooldown_unit": "weeks"}`, "cooldown_unit"},
		{"cross field", KindRSI, `{"oversold": 80, "overbought": 70}`, "oversold"},
		{"fast not below slow", KindMACrossover, `{"fast_period": 30, "slow_period": 30}`, "fast_period"},
		{"unknown kind", Kind("macd"), `{}`, "strategy_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, json.RawMessage(tt.raw))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Decode error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("ValidationError.Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestHashStable(t *testing.T) {
	a, _ := Decode(KindBollinger, json.RawMessage(`{"period": 10, "std_dev": 2.5}`))
	b, _ := Decode(KindBollinger, json.RawMessage(`{"std_dev": 2.50, "period": 10}`))
	c, _ := Decode(KindBollinger, json.RawMessage(`{"period": 11, "std_dev": 2.5}`))
	if Hash(a) != Hash(b) {
		t.Errorf("equivalent params hash differently: %s vs %s", Hash(a), Hash(b))
	}
	if Hash(a) == Hash(c) {
		t.Error("different params share a hash")
	}
	if len(Hash(a)) != 16 {
		t.Errorf("Hash length = %d, want 16", len(Hash(a)))
	}
}

func TestStopLossBreached(t *testing.T) {
	r := Risk{StopLossPct: 10}
	if !r.StopLossBreached(100, 89) {
		t.Error("89 against entry 100 should breach a 10% stop")
	}
	if !r.StopLossBreached(100, 90) {
		t.Error("exactly -10% should breach")
	}
	if r.StopLossBreached(100, 91) {
		t.Error("91 should not breach")
	}
	if (Risk{}).StopLossBreached(100, 1) {
		t.Error("zero stop-loss should disable the check")
	}
}

// ---------------------------------------------------------------------------
// Walk
// ---------------------------------------------------------------------------

type testParams struct {
	risk Risk
	warm int
}

func (p testParams) Kind() Kind       { return "test" }
func (p testParams) RiskParams() Risk { return p.risk }
func (p testParams) Fields() []Field  { return nil }
func (p testParams) WarmUp() int      { return p.warm }

type funcRules struct {
	enter func(i int) bool
	exit  func(i int) bool
}

func (r funcRules) Enter(i int) (bool, string) { return r.enter(i), "enter" }
func (r funcRules) Exit(i int, _ domain.Position) (bool, string) {
	return r.exit(i), "exit"
}

func hourly(closes ...float64) *domain.Series {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := &domain.Series{InstrumentID: "TEST", Interval: domain.Interval1h}
	for i, c := range closes {
		s.Bars = append(s.Bars, domain.Bar{Timestamp: t0.Add(time.Duration(i) * time.Hour), Close: c})
	}
	return s
}

func signalString(sigs []domain.Signal) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = fmt.Sprintf("%s@%d", s.Kind, s.Index)
	}
	return out
}

func assertSignals(t *testing.T, got []domain.Signal, want ...domain.Signal) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d signals %v, want %d", len(got), signalString(got), len(want))
	}
	for i := range want {
		if got[i].Index != want[i].Index || got[i].Kind != want[i].Kind {
			t.Errorf("signal[%d] = %s@%d, want %s@%d", i, got[i].Kind, got[i].Index, want[i].Kind, want[i].Index)
		}
	}
}

func enterAt(i int) domain.Signal { return domain.Signal{Index: i, Kind: domain.SignalEnter} }
func exitAt(i int) domain.Signal  { return domain.Signal{Index: i, Kind: domain.SignalExit} }

func TestWalkExitBeforeEnter(t *testing.T) {
	series := hourly(100, 100, 100, 100, 100, 100)
	rules := funcRules{
		enter: func(int) bool { return true },
		exit:  func(i int) bool { return i == 2 },
	}
	got := Walk(series, testParams{warm: 1}, rules)
	// Bar 2 closes the position, so re-entry waits for bar 3.
	assertSignals(t, got, enterAt(0), exitAt(2), enterAt(3))
}

func TestWalkStopLossEmitsExit(t *testing.T) {
	series := hourly(100, 100, 89, 100)
	rules := funcRules{
		enter: func(int) bool { return true },
		exit:  func(i int) bool { return i == 2 },
	}
	got := Walk(series, testParams{risk: Risk{StopLossPct: 10}, warm: 1}, rules)
	assertSignals(t, got, enterAt(0), exitAt(2), enterAt(3))
	if got[1].Reason != string(domain.ExitStopLoss) {
		t.Errorf("stop-loss exit reason = %q, want %q", got[1].Reason, domain.ExitStopLoss)
	}
}

func TestWalkCooldown(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	rules := funcRules{
		enter: func(int) bool { return true },
		exit:  func(i int) bool { return i == 1 },
	}
	risk := Risk{CooldownValue: 24, CooldownUnit: CooldownHours}
	got := Walk(hourly(closes...), testParams{risk: risk, warm: 1}, rules)
	assertSignals(t, got, enterAt(0), exitAt(1), enterAt(25))
}

func TestWalkShortSeries(t *testing.T) {
	rules := funcRules{
		enter: func(int) bool { return true },
		exit:  func(int) bool { return false },
	}
	if got := Walk(hourly(1, 2, 3), testParams{warm: 4}, rules); got != nil {
		t.Errorf("Walk on short series = %v, want nil", got)
	}
	if got := Walk(nil, testParams{warm: 1}, rules); got != nil {
		t.Errorf("Walk on nil series = %v, want nil", got)
	}
}
