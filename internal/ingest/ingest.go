// Package ingest loads bars into a writable store and announces each
// instrument it touched so cached backtests can be invalidated.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradelab/internal/domain"
	"tradelab/internal/notify"
	"tradelab/internal/store"
)

// Publisher announces written bars. *notify.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg notify.Ingested) error
}

// Summary describes the bars written for one instrument.
type Summary struct {
	InstrumentID string
	Bars         int
	Start        time.Time
	End          time.Time
}

// Importer writes bars to dst and publishes a notice per instrument. A nil
// publisher skips notification.
type Importer struct {
	dst store.BarWriter
	pub Publisher
	log *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(dst store.BarWriter, pub Publisher, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{dst: dst, pub: pub, log: logger.With("component", "ingest")}
}

// Write persists bars and notifies once per instrument. Bars must carry their
// Symbol. Notification failures are logged, not returned: the bars are
// already stored.
func (im *Importer) Write(ctx context.Context, interval domain.Interval, bars []domain.Bar) ([]Summary, error) {
	if len(bars) == 0 {
		return nil, nil
	}
	for i := range bars {
		if strings.TrimSpace(bars[i].Symbol) == "" {
			return nil, fmt.Errorf("bar %d has no symbol", i)
		}
		bars[i].Symbol = strings.ToUpper(bars[i].Symbol)
	}
	if err := im.dst.WriteBars(ctx, interval, bars); err != nil {
		return nil, fmt.Errorf("writing bars: %w", err)
	}

	sums := summarize(bars)
	for _, s := range sums {
		im.log.Info("bars written", "instrument", s.InstrumentID, "interval", interval, "bars", s.Bars,
			"start", s.Start.Format(time.DateOnly), "end", s.End.Format(time.DateOnly))
		if im.pub == nil {
			continue
		}
		err := im.pub.Publish(ctx, notify.Ingested{
			InstrumentID: s.InstrumentID,
			Interval:     string(interval),
			Bars:         s.Bars,
			Start:        s.Start,
			End:          s.End,
		})
		if err != nil {
			im.log.Warn("ingest notice failed", "instrument", s.InstrumentID, "error", err)
		}
	}
	return sums, nil
}

// Pull fetches each instrument from src with up to workers concurrent calls
// and writes whatever came back. Instruments the source does not know are
// skipped with a warning.
func (im *Importer) Pull(ctx context.Context, src store.BarStore, ids []string, interval domain.Interval, start, end time.Time, workers int) ([]Summary, error) {
	if workers <= 0 {
		workers = 4
	}
	var (
		mu  sync.Mutex
		all []domain.Bar
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		id := strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		g.Go(func() error {
			series, err := src.Fetch(gctx, id, interval, start, end)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					im.log.Warn("instrument unknown to source", "instrument", id)
					return nil
				}
				return fmt.Errorf("fetching %s: %w", id, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, b := range series.Bars {
				b.Symbol = id
				all = append(all, b)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return im.Write(ctx, interval, all)
}

func summarize(bars []domain.Bar) []Summary {
	byID := make(map[string]*Summary)
	for _, b := range bars {
		s, ok := byID[b.Symbol]
		if !ok {
			s = &Summary{InstrumentID: b.Symbol, Start: b.Timestamp, End: b.Timestamp}
			byID[b.Symbol] = s
		}
		s.Bars++
		if b.Timestamp.Before(s.Start) {
			s.Start = b.Timestamp
		}
		if b.Timestamp.After(s.End) {
			s.End = b.Timestamp
		}
	}
	out := make([]Summary, 0, len(byID))
	for _, s := range byID {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}
