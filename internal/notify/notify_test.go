package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	ids []string
	err error
}

func (r *recorder) Invalidate(_ context.Context, id string) (int, error) {
	r.ids = append(r.ids, id)
	return len(r.ids), r.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandlePayload(t *testing.T) {
	rec := &recorder{}
	s := newSubscriber(rec, DefaultSubject, quiet())

	data, _ := json.Marshal(Ingested{InstrumentID: "aapl", Bars: 10, Start: time.Now(), End: time.Now()})
	s.handle("bars.ingested.AAPL", data)

	if len(rec.ids) != 1 || rec.ids[0] != "AAPL" {
		t.Errorf("invalidated %v, want [AAPL]", rec.ids)
	}
}

func TestHandleFallsBackToSubject(t *testing.T) {
	rec := &recorder{}
	s := newSubscriber(rec, DefaultSubject, quiet())

	s.handle("bars.ingested.msft", []byte("not json"))
	s.handle("other.subject", []byte("{}"))

	if len(rec.ids) != 1 || rec.ids[0] != "MSFT" {
		t.Errorf("invalidated %v, want [MSFT]", rec.ids)
	}
}

func TestHandleInvalidateError(t *testing.T) {
	rec := &recorder{err: errors.New("redis down")}
	s := newSubscriber(rec, DefaultSubject, quiet())

	// Must not panic; the failure is only logged.
	s.handle("bars.ingested.SPY", []byte(`{"instrument_id":"SPY"}`))
	if len(rec.ids) != 1 {
		t.Errorf("invalidate calls = %d, want 1", len(rec.ids))
	}
}

func TestSubjectPrefix(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"", "bars.ingested.QQQ"},
		{"md.bars.", "md.bars.QQQ"},
		{"custom", "custom.QQQ"},
	}
	for _, tt := range tests {
		got := subjectFor(Options{Subject: tt.subject}.prefix(), "qqq")
		if got != tt.want {
			t.Errorf("subject(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}

// subjectMatches applies NATS token matching: "*" is one token, ">" the rest.
func subjectMatches(pattern, subject string) bool {
	pt, st := strings.Split(pattern, "."), strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) || (tok != "*" && tok != st[i]) {
			return false
		}
	}
	return len(pt) == len(st)
}

func TestSubscriptionCoversDottedSymbols(t *testing.T) {
	sub := subscriptionFor(DefaultSubject)
	for _, id := range []string{"AAPL", "BRK.B", "bf.b"} {
		subject := subjectFor(DefaultSubject, id)
		if !subjectMatches(sub, subject) {
			t.Errorf("subscription %q misses %q", sub, subject)
		}
	}
	if subjectMatches(sub, DefaultSubject) {
		t.Errorf("subscription %q matched the bare prefix", sub)
	}
}

func TestHandleDottedSubjectFallback(t *testing.T) {
	rec := &recorder{}
	s := newSubscriber(rec, DefaultSubject, quiet())

	s.handle(subjectFor(DefaultSubject, "brk.b"), nil)
	if len(rec.ids) != 1 || rec.ids[0] != "BRK.B" {
		t.Errorf("invalidated %v, want [BRK.B]", rec.ids)
	}
}
