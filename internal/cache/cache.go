// Package cache stores backtest results keyed by instrument and run
// configuration.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"tradelab/internal/domain"
)

// Prefix starts every result key.
const Prefix = "backtest:"

// Cache is a shared, concurrency-safe result store. A miss is reported as
// (nil, false, nil). Concurrent Puts of the same key are last-write-wins.
type Cache interface {
	Get(ctx context.Context, key Key) (*domain.BacktestResult, bool, error)
	Put(ctx context.Context, key Key, result *domain.BacktestResult, ttl time.Duration) error
	// Invalidate drops every entry for instrumentID and returns how many
	// were removed.
	Invalidate(ctx context.Context, instrumentID string) (int, error)
}

// Key identifies one cached run. Digest covers everything but the
// instrument, which stays readable so entries can be invalidated per
// instrument.
type Key struct {
	InstrumentID string
	Digest       string
}

// NewKey builds the key for a run. normalizedParams must be the canonical
// rendering of the parameters so that equivalent requests collide.
func NewKey(instrumentID, strategyID, normalizedParams string, start, end time.Time, interval domain.Interval) Key {
	h := sha256.New()
	for _, part := range []string{
		strategyID,
		normalizedParams,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
		string(interval),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return Key{InstrumentID: instrumentID, Digest: hex.EncodeToString(h.Sum(nil))}
}

func (k Key) String() string { return instrumentPrefix(k.InstrumentID) + k.Digest }

// idEscaper keeps ':' inside an instrument id from reading as the separator,
// so the prefix of "A" never covers "A:B".
var idEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func instrumentPrefix(instrumentID string) string {
	return Prefix + idEscaper.Replace(instrumentID) + ":"
}

// globEscaper escapes the characters Redis MATCH patterns treat specially.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// instrumentPattern is the SCAN pattern matching every key of instrumentID.
func instrumentPattern(instrumentID string) string {
	return globEscaper.Replace(instrumentPrefix(instrumentID)) + "*"
}

// Nop is a Cache that stores nothing.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(context.Context, Key) (*domain.BacktestResult, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, Key, *domain.BacktestResult, time.Duration) error {
	return nil
}
func (Nop) Invalidate(context.Context, string) (int, error) { return 0, nil }
