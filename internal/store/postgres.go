package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradelab/internal/domain"
)

var (
	_ BarStore     = (*PostgresStore)(nil)
	_ BarWriter    = (*PostgresStore)(nil)
	_ SymbolLister = (*PostgresStore)(nil)
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL. ConnString, when
// set, is used verbatim.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// BarRow is the bars table model.
type BarRow struct {
	Symbol     string    `gorm:"primaryKey;size:32"`
	Timeframe  string    `gorm:"primaryKey;size:8"`
	Ts         time.Time `gorm:"primaryKey"`
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64 `gorm:"column:vwap"`
}

// TableName pins the table name.
func (BarRow) TableName() string { return "bars" }

// PostgresStore implements BarStore on a PostgreSQL bars table via gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and migrates the bars table.
func NewPostgresStore(opt PostgresOption) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(opt.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.AutoMigrate(&BarRow{}); err != nil {
		return nil, fmt.Errorf("migrating bars table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WriteBars upserts bars in batches.
func (s *PostgresStore) WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = BarRow{
			Symbol:     strings.ToUpper(b.Symbol),
			Timeframe:  string(interval),
			Ts:         b.Timestamp.UTC(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, 500).Error
	if err != nil {
		return fmt.Errorf("upserting bars: %w", err)
	}
	return nil
}

// Fetch selects the bars in range.
func (s *PostgresStore) Fetch(ctx context.Context, instrumentID string, interval domain.Interval, start, end time.Time) (*domain.Series, error) {
	symbol := strings.ToUpper(instrumentID)
	db := s.db.WithContext(ctx)

	var first BarRow
	err := db.Where("symbol = ? AND timeframe = ?", symbol, string(interval)).Take(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %s: %w", symbol, interval, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: %w: %v", ErrUnavailable, err)
	}

	var rows []BarRow
	err = db.Where("symbol = ? AND timeframe = ? AND ts BETWEEN ? AND ?", symbol, string(interval), start.UTC(), end.UTC()).
		Order("ts").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: %w: %v", ErrUnavailable, err)
	}

	bars := make([]domain.Bar, len(rows))
	for i, r := range rows {
		bars[i] = domain.Bar{
			Symbol:     r.Symbol,
			Timestamp:  r.Ts.UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			TradeCount: r.TradeCount,
			VWAP:       r.VWAP,
		}
	}
	return newSeries(symbol, interval, bars), nil
}

// ListSymbols returns the distinct symbols stored at interval.
func (s *PostgresStore) ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&BarRow{}).
		Where("timeframe = ?", string(interval)).
		Distinct("symbol").Order("symbol").
		Pluck("symbol", &out).Error
	return out, err
}
