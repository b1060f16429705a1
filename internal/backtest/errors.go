package backtest

import (
	"errors"
	"fmt"

	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

// ErrNoData reports a fetch that returned zero bars. Nothing is cached.
var ErrNoData = errors.New("no price data in range")

// ErrMalformedSeries reports a fetched series whose bars are out of order or
// duplicated.
var ErrMalformedSeries = errors.New("malformed price series")

// ErrListingUnsupported reports a bar store that cannot enumerate the
// instruments it holds.
var ErrListingUnsupported = errors.New("bar store cannot list instruments")

// FetchError wraps a bar store failure for one instrument. It unwraps to
// store.ErrNotFound or store.ErrUnavailable.
type FetchError struct {
	InstrumentID string
	Err          error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.InstrumentID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the failure may succeed on retry.
func (e *FetchError) Transient() bool { return errors.Is(e.Err, store.ErrUnavailable) }

// IsValidation reports whether err rejects the request itself.
func IsValidation(err error) bool {
	var ve *strategy.ValidationError
	return errors.As(err, &ve)
}
