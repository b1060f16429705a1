// Package strategy defines the Strategy interface for trading strategies,
// their typed parameter sets, and a Registry for looking strategies up by id.
package strategy

import (
	"fmt"
	"sort"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
)

// Strategy turns a price series and its indicators into an ordered list of
// enter/exit signals.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Indicators lists the indicator requests Evaluate reads for p.
	Indicators(p Params) []indicator.Request

	// Evaluate walks the series once and returns signals in bar order. A
	// series shorter than p.WarmUp() yields no signals.
	Evaluate(series *domain.Series, set *indicator.Set, p Params) ([]domain.Signal, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves id and checks that p belongs to the same kind.
func (r *Registry) Lookup(id string, p Params) (Strategy, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, &ValidationError{Field: "strategy_id", Reason: fmt.Sprintf("unknown strategy %q", id)}
	}
	if p != nil && string(p.Kind()) != id {
		return nil, &ValidationError{Field: "parameters", Reason: fmt.Sprintf("%s parameters given for strategy %q", p.Kind(), id)}
	}
	return s, nil
}

// Description documents one registered strategy for API consumers.
type Description struct {
	ID       string           `json:"id"`
	Defaults Params           `json:"defaults"`
	Ranges   map[string]Range `json:"ranges"`
	WarmUp   int              `json:"warm_up_bars"`
}

// Describe returns a Description for every registered strategy, sorted by id.
func (r *Registry) Describe() []Description {
	out := make([]Description, 0, len(r.strategies))
	for _, name := range r.List() {
		p, err := Default(Kind(name))
		if err != nil {
			continue
		}
		out = append(out, Description{ID: name, Defaults: p, Ranges: Ranges(Kind(name)), WarmUp: p.WarmUp()})
	}
	return out
}
