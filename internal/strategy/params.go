package strategy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a strategy family. It is also the strategy id used by the
// API and the cache key.
type Kind string

const (
	KindRSI               Kind = "rsi"
	KindMACrossover       Kind = "ma_crossover"
	KindBollinger         Kind = "bollinger"
	KindMomentum          Kind = "momentum"
	KindMeanReversion     Kind = "mean_reversion"
	KindSupportResistance Kind = "support_resistance"
)

// Kinds lists every supported strategy kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindRSI, KindMACrossover, KindBollinger, KindMomentum, KindMeanReversion, KindSupportResistance}
}

// CooldownUnit is the unit of Risk.CooldownValue.
type CooldownUnit string

const (
	CooldownMinutes CooldownUnit = "minutes"
	CooldownHours   CooldownUnit = "hours"
	CooldownDays    CooldownUnit = "days"
)

// MAType selects the moving average used by the crossover strategy.
type MAType string

const (
	MATypeSMA MAType = "sma"
	MATypeEMA MAType = "ema"
)

// ---------------------------------------------------------------------------
// Risk (shared by every kind)
// ---------------------------------------------------------------------------

// Risk carries the position-management fields every strategy shares.
// Percentages are expressed in percent (2 means 2%).
type Risk struct {
	StopLossPct       float64      `json:"stop_loss_pct"`
	CooldownValue     int          `json:"cooldown_value"`
	CooldownUnit      CooldownUnit `json:"cooldown_unit"`
	TransactionFeePct float64      `json:"transaction_fee_pct"`
}

// Cooldown converts the cooldown fields to a duration.
func (r Risk) Cooldown() time.Duration {
	v := time.Duration(r.CooldownValue)
	switch r.CooldownUnit {
	case CooldownMinutes:
		return v * time.Minute
	case CooldownDays:
		return v * 24 * time.Hour
	default:
		return v * time.Hour
	}
}

// CooldownElapsed reports whether an entry at t is allowed after a position
// was closed at lastExit. The window counts from the exit fill time.
func (r Risk) CooldownElapsed(lastExit, t time.Time) bool {
	return !t.Before(lastExit.Add(r.Cooldown()))
}

// StopLossBreached reports whether price has fallen far enough below entry to
// force an exit. A zero stop-loss disables the check.
func (r Risk) StopLossBreached(entry, price float64) bool {
	if r.StopLossPct <= 0 || entry <= 0 {
		return false
	}
	return (price-entry)/entry <= -r.StopLossPct/100
}

// Fee returns the transaction fee as a fraction.
func (r Risk) Fee() float64 { return r.TransactionFeePct / 100 }

func (r Risk) fields() []Field {
	return []Field{
		{Name: "stop_loss_pct", Value: r.StopLossPct},
		{Name: "cooldown_value", Value: float64(r.CooldownValue)},
		{Name: "cooldown_unit", Text: string(r.CooldownUnit)},
		{Name: "transaction_fee_pct", Value: r.TransactionFeePct},
	}
}

func defaultRisk() Risk {
	return Risk{StopLossPct: 5, CooldownValue: 0, CooldownUnit: CooldownHours, TransactionFeePct: 0.1}
}

// ---------------------------------------------------------------------------
// Params variants
// ---------------------------------------------------------------------------

// Params is the tagged union of strategy parameter sets. Each variant is a
// concrete struct; switch on Kind or type-assert to read its fields.
type Params interface {
	Kind() Kind
	RiskParams() Risk
	// Fields lists every parameter for validation and normalisation.
	Fields() []Field
	// WarmUp is the minimum number of bars before the strategy can act.
	WarmUp() int
}

// Field is one named parameter value. Enum fields set Text instead of Value.
type Field struct {
	Name  string
	Value float64
	Text  string
}

// RSIParams configures RSI mean reversion.
type RSIParams struct {
	Period     int     `json:"period"`
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
	Risk
}

func (p *RSIParams) Kind() Kind       { return KindRSI }
func (p *RSIParams) RiskParams() Risk { return p.Risk }
func (p *RSIParams) WarmUp() int      { return p.Period + 1 }
func (p *RSIParams) Fields() []Field {
	return append([]Field{
		{Name: "period", Value: float64(p.Period)},
		{Name: "oversold", Value: p.Oversold},
		{Name: "overbought", Value: p.Overbought},
	}, p.Risk.fields()...)
}

// MACrossoverParams configures the fast/slow moving-average crossover.
type MACrossoverParams struct {
	FastPeriod int    `json:"fast_period"`
	SlowPeriod int    `json:"slow_period"`
	MAType     MAType `json:"ma_type"`
	Risk
}

func (p *MACrossoverParams) Kind() Kind       { return KindMACrossover }
func (p *MACrossoverParams) RiskParams() Risk { return p.Risk }
func (p *MACrossoverParams) WarmUp() int      { return p.SlowPeriod + 1 }
func (p *MACrossoverParams) Fields() []Field {
	return append([]Field{
		{Name: "fast_period", Value: float64(p.FastPeriod)},
		{Name: "slow_period", Value: float64(p.SlowPeriod)},
		{Name: "ma_type", Text: string(p.MAType)},
	}, p.Risk.fields()...)
}

// BollingerParams configures Bollinger band mean reversion.
type BollingerParams struct {
	Period int     `json:"period"`
	StdDev float64 `json:"std_dev"`
	Risk
}

func (p *BollingerParams) Kind() Kind       { return KindBollinger }
func (p *BollingerParams) RiskParams() Risk { return p.Risk }
func (p *BollingerParams) WarmUp() int      { return p.Period }
func (p *BollingerParams) Fields() []Field {
	return append([]Field{
		{Name: "period", Value: float64(p.Period)},
		{Name: "std_dev", Value: p.StdDev},
	}, p.Risk.fields()...)
}

// MomentumParams configures trailing rate-of-change momentum. ExitThresholdPct
// is negative.
type MomentumParams struct {
	Lookback          int     `json:"lookback"`
	EntryThresholdPct float64 `json:"entry_threshold_pct"`
	ExitThresholdPct  float64 `json:"exit_threshold_pct"`
	Risk
}

func (p *MomentumParams) Kind() Kind       { return KindMomentum }
func (p *MomentumParams) RiskParams() Risk { return p.Risk }
func (p *MomentumParams) WarmUp() int      { return p.Lookback + 1 }
func (p *MomentumParams) Fields() []Field {
	return append([]Field{
		{Name: "lookback", Value: float64(p.Lookback)},
		{Name: "entry_threshold_pct", Value: p.EntryThresholdPct},
		{Name: "exit_threshold_pct", Value: p.ExitThresholdPct},
	}, p.Risk.fields()...)
}

// MeanReversionParams configures deviation-from-average mean reversion.
type MeanReversionParams struct {
	Period       int     `json:"period"`
	DeviationPct float64 `json:"deviation_pct"`
	Risk
}

func (p *MeanReversionParams) Kind() Kind       { return KindMeanReversion }
func (p *MeanReversionParams) RiskParams() Risk { return p.Risk }
func (p *MeanReversionParams) WarmUp() int      { return p.Period }
func (p *MeanReversionParams) Fields() []Field {
	return append([]Field{
		{Name: "period", Value: float64(p.Period)},
		{Name: "deviation_pct", Value: p.DeviationPct},
	}, p.Risk.fields()...)
}

// SupportResistanceParams configures breakout/bounce trading around clustered
// price levels.
type SupportResistanceParams struct {
	Lookback          int     `json:"lookback"`
	TolerancePct      float64 `json:"tolerance_pct"`
	MinTouches        int     `json:"min_touches"`
	BreakThresholdPct float64 `json:"break_threshold_pct"`
	Risk
}

func (p *SupportResistanceParams) Kind() Kind       { return KindSupportResistance }
func (p *SupportResistanceParams) RiskParams() Risk { return p.Risk }
func (p *SupportResistanceParams) WarmUp() int      { return p.Lookback + 1 }
func (p *SupportResistanceParams) Fields() []Field {
	return append([]Field{
		{Name: "lookback", Value: float64(p.Lookback)},
		{Name: "tolerance_pct", Value: p.TolerancePct},
		{Name: "min_touches", Value: float64(p.MinTouches)},
		{Name: "break_threshold_pct", Value: p.BreakThresholdPct},
	}, p.Risk.fields()...)
}

// ---------------------------------------------------------------------------
// Defaults, ranges and decoding
// ---------------------------------------------------------------------------

// Range is the inclusive bound declared for a numeric field.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

var riskRanges = map[string]Range{
	"stop_loss_pct":       {0, 100},
	"cooldown_value":      {0, 10000},
	"transaction_fee_pct": {0, 10},
}

var rangeTable = map[Kind]map[string]Range{
	KindRSI: {
		"period":     {2, 100},
		"oversold":   {0, 100},
		"overbought": {0, 100},
	},
	KindMACrossover: {
		"fast_period": {2, 200},
		"slow_period": {3, 400},
	},
	KindBollinger: {
		"period":  {2, 200},
		"std_dev": {0.5, 5},
	},
	KindMomentum: {
		"lookback":            {1, 200},
		"entry_threshold_pct": {0.01, 100},
		"exit_threshold_pct":  {-100, 0},
	},
	KindMeanReversion: {
		"period":        {2, 400},
		"deviation_pct": {0.01, 50},
	},
	KindSupportResistance: {
		"lookback":            {10, 1000},
		"tolerance_pct":       {0.01, 10},
		"min_touches":         {1, 50},
		"break_threshold_pct": {0, 20},
	},
}

var enumValues = map[string][]string{
	"cooldown_unit": {string(CooldownMinutes), string(CooldownHours), string(CooldownDays)},
	"ma_type":       {string(MATypeSMA), string(MATypeEMA)},
}

// Ranges returns the declared bounds for every numeric field of kind.
func Ranges(kind Kind) map[string]Range {
	out := make(map[string]Range, len(riskRanges)+len(rangeTable[kind]))
	for k, v := range riskRanges {
		out[k] = v
	}
	for k, v := range rangeTable[kind] {
		out[k] = v
	}
	return out
}

// Default returns the default parameter set for kind.
func Default(kind Kind) (Params, error) {
	r := defaultRisk()
	switch kind {
	case KindRSI:
		return &RSIParams{Period: 14, Oversold: 30, Overbought: 70, Risk: r}, nil
	case KindMACrossover:
		return &MACrossoverParams{FastPeriod: 10, SlowPeriod: 30, MAType: MATypeSMA, Risk: r}, nil
	case KindBollinger:
		return &BollingerParams{Period: 20, StdDev: 2, Risk: r}, nil
	case KindMomentum:
		return &MomentumParams{Lookback: 10, EntryThresholdPct: 5, ExitThresholdPct: -3, Risk: r}, nil
	case KindMeanReversion:
		return &MeanReversionParams{Period: 20, DeviationPct: 5, Risk: r}, nil
	case KindSupportResistance:
		return &SupportResistanceParams{Lookback: 50, TolerancePct: 1.5, MinTouches: 2, BreakThresholdPct: 1, Risk: r}, nil
	default:
		return nil, &ValidationError{Field: "strategy_id", Reason: fmt.Sprintf("unknown strategy %q", kind)}
	}
}

// Decode overlays raw JSON onto the defaults for kind and validates the
// result. Unknown fields are rejected. An empty raw message yields the
// defaults.
func Decode(kind Kind, raw json.RawMessage) (Params, error) {
	p, err := Default(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, &ValidationError{Field: "parameters", Reason: err.Error()}
		}
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidationError reports a parameter outside its declared range or an
// otherwise inconsistent parameter set.
type ValidationError struct {
	Field  string
	Value  float64
	Min    float64
	Max    float64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("parameter %s = %s outside [%s, %s]", e.Field, fmtFloat(e.Value), fmtFloat(e.Min), fmtFloat(e.Max))
}

// Validate checks every field against its declared range, enum fields
// against their allowed values, and cross-field constraints.
func Validate(p Params) error {
	if p == nil {
		return &ValidationError{Field: "parameters", Reason: "missing"}
	}
	ranges := Ranges(p.Kind())
	for _, f := range p.Fields() {
		if allowed, ok := enumValues[f.Name]; ok {
			if !slices.Contains(allowed, f.Text) {
				return &ValidationError{Field: f.Name, Reason: fmt.Sprintf("%q is not one of %s", f.Text, strings.Join(allowed, ", "))}
			}
			continue
		}
		r, ok := ranges[f.Name]
		if !ok {
			continue
		}
		if math.IsNaN(f.Value) || f.Value < r.Min || f.Value > r.Max {
			return &ValidationError{Field: f.Name, Value: f.Value, Min: r.Min, Max: r.Max}
		}
	}

	switch v := p.(type) {
	case *RSIParams:
		if v.Oversold >= v.Overbought {
			return &ValidationError{Field: "oversold", Reason: "must be below overbought"}
		}
	case *MACrossoverParams:
		if v.FastPeriod >= v.SlowPeriod {
			return &ValidationError{Field: "fast_period", Reason: "must be below slow_period"}
		}
	}
	return nil
}

// Normalize renders p as a canonical, sorted "name=value" list so that
// equivalent parameter sets produce identical strings.
func Normalize(p Params) string {
	fields := p.Fields()
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := f.Text
		if _, isEnum := enumValues[f.Name]; !isEnum {
			v = fmtFloat(f.Value)
		}
		parts = append(parts, f.Name+"="+v)
	}
	sort.Strings(parts)
	return string(p.Kind()) + ";" + strings.Join(parts, ";")
}

// Hash is a short stable digest of the normalised parameters.
func Hash(p Params) string {
	sum := sha256.Sum256([]byte(Normalize(p)))
	return hex.EncodeToString(sum[:8])
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
