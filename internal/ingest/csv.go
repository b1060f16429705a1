package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tradelab/internal/domain"
)

// ReadCSV parses OHLCV rows with a header line. Recognised columns, matched
// case-insensitively: symbol, timestamp (or date/time), open, high, low,
// close, volume. The symbol column may be omitted when symbol is given;
// volume is optional. Timestamps may be RFC 3339, YYYY-MM-DD,
// "YYYY-MM-DD HH:MM:SS" or unix seconds/milliseconds, all taken as UTC.
func ReadCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv: empty input")
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "date", "time", "datetime", "ts":
			name = "timestamp"
		case "ticker":
			name = "symbol"
		}
		col[name] = i
	}
	for _, need := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("csv: missing %q column", need)
		}
	}
	_, hasSymbol := col["symbol"]
	if !hasSymbol && symbol == "" {
		return nil, errors.New("csv: no symbol column and no symbol given")
	}
	volIdx, hasVolume := col["volume"]

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		b := domain.Bar{Symbol: symbol}
		if hasSymbol && rec[col["symbol"]] != "" {
			b.Symbol = rec[col["symbol"]]
		}
		if b.Timestamp, err = parseTimestamp(rec[col["timestamp"]]); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		prices := []struct {
			name string
			dst  *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}}
		for _, p := range prices {
			if *p.dst, err = strconv.ParseFloat(strings.TrimSpace(rec[col[p.name]]), 64); err != nil {
				return nil, fmt.Errorf("csv line %d: %s: %w", line, p.name, err)
			}
		}
		if hasVolume && strings.TrimSpace(rec[volIdx]) != "" {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[volIdx]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: volume: %w", line, err)
			}
			b.Volume = int64(v)
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Anything past 1e11 is milliseconds (year 5138 in seconds).
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
