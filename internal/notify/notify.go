// Package notify carries bar-ingestion notifications over NATS so running
// servers can drop cached backtests for instruments whose data changed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix; messages go to "<prefix>.<SYMBOL>".
const DefaultSubject = "bars.ingested"

// Ingested is the payload published after bars are written.
type Ingested struct {
	InstrumentID string    `json:"instrument_id"`
	Interval     string    `json:"interval"`
	Bars         int       `json:"bars"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	PublishedAt  time.Time `json:"published_at"`
}

// Invalidator drops cached entries for one instrument. cache.Cache and
// *backtest.Engine satisfy it.
type Invalidator interface {
	Invalidate(ctx context.Context, instrumentID string) (int, error)
}

// Options configures the NATS connection.
type Options struct {
	URL     string
	Subject string
}

func (o Options) prefix() string {
	if o.Subject == "" {
		return DefaultSubject
	}
	return strings.TrimSuffix(o.Subject, ".")
}

func connect(url string, log *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("tradelab"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	return conn, nil
}

// Publisher announces freshly written bars.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// NewPublisher connects to opts.URL.
func NewPublisher(opts Options, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := connect(opts.URL, logger.With("component", "notify"))
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, prefix: opts.prefix()}, nil
}

// Publish sends an Ingested message for instrumentID and flushes it.
func (p *Publisher) Publish(ctx context.Context, msg Ingested) error {
	msg.InstrumentID = strings.ToUpper(msg.InstrumentID)
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal ingest notice: %w", err)
	}
	if err := p.conn.Publish(subjectFor(p.prefix, msg.InstrumentID), data); err != nil {
		return fmt.Errorf("publish ingest notice for %s: %w", msg.InstrumentID, err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

// Subscriber invalidates cached results whenever an ingest notice arrives.
type Subscriber struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	target Invalidator
	prefix string
	log    *slog.Logger
}

// Subscribe connects to opts.URL and listens on "<prefix>.>". The tail
// wildcard matches symbols that themselves contain dots, such as BRK.B.
func Subscribe(opts Options, target Invalidator, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "notify")
	conn, err := connect(opts.URL, log)
	if err != nil {
		return nil, err
	}

	s := newSubscriber(target, opts.prefix(), log)
	s.conn = conn
	subject := subscriptionFor(s.prefix)
	s.sub, err = conn.Subscribe(subject, func(m *nats.Msg) {
		s.handle(m.Subject, m.Data)
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	log.Info("listening for ingest notices", "subject", subject)
	return s, nil
}

func newSubscriber(target Invalidator, prefix string, log *slog.Logger) *Subscriber {
	return &Subscriber{target: target, prefix: prefix, log: log}
}

// handle invalidates the instrument named by the payload, falling back to the
// subject tokens after the prefix when the payload is unreadable.
func (s *Subscriber) handle(subject string, data []byte) {
	var msg Ingested
	if err := json.Unmarshal(data, &msg); err != nil || msg.InstrumentID == "" {
		msg.InstrumentID = strings.TrimPrefix(subject, s.prefix+".")
		if msg.InstrumentID == subject || msg.InstrumentID == "" {
			s.log.Warn("ignoring ingest notice", "subject", subject)
			return
		}
	}
	id := strings.ToUpper(msg.InstrumentID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := s.target.Invalidate(ctx, id)
	if err != nil {
		s.log.Warn("cache invalidation failed", "instrument", id, "error", err)
		return
	}
	s.log.Info("cache invalidated", "instrument", id, "removed", n, "bars", msg.Bars)
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.log.Warn("unsubscribe failed", "error", err)
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func subscriptionFor(prefix string) string { return prefix + ".>" }

func subjectFor(prefix, instrumentID string) string {
	return prefix + "." + strings.ToUpper(instrumentID)
}
