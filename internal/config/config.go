// Package config loads the tradelab YAML configuration and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tradelab/internal/domain"
	"tradelab/internal/notify"
	"tradelab/internal/store"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "TRADELAB_CONFIG"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradelab.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
	Engine  Engine  `yaml:"engine"`
	Cache   Cache   `yaml:"cache"`
	NATS    NATS    `yaml:"nats"`
}

// Storage selects the bar store.
type Storage struct {
	Driver      string `yaml:"driver"` // parquet, sqlite, postgres or alpaca
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Engine tunes backtest execution.
type Engine struct {
	Workers         int     `yaml:"workers"`
	DefaultInterval string  `yaml:"default_interval"`
	InitialCapital  float64 `yaml:"initial_capital"`
}

// Cache selects the result cache.
type Cache struct {
	Driver string        `yaml:"driver"` // memory, redis or none
	TTL    time.Duration `yaml:"ttl"`
	Redis  Redis         `yaml:"redis"`
}

// Redis holds connection settings for the redis cache.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATS configures ingestion notices. An empty URL disables them.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{Driver: "parquet", DataDir: "data", SQLitePath: "data/tradelab.db"},
		Server:  Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Logging: Logging{Level: "info", Format: "json"},
		Engine:  Engine{Workers: 4, DefaultInterval: string(domain.Interval1d), InitialCapital: 10000},
		Cache:   Cache{Driver: "memory", TTL: time.Hour},
		NATS:    NATS{Subject: notify.DefaultSubject},
	}
}

// Load reads the YAML configuration file at path over the defaults and then
// applies environment variable overrides. An empty path falls back to
// $TRADELAB_CONFIG; with neither set only defaults and environment apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "parquet", "sqlite", "postgres", "alpaca":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
	}
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if _, err := domain.ParseInterval(c.Engine.DefaultInterval); err != nil {
		return fmt.Errorf("engine.default_interval: %w", err)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if c.Engine.InitialCapital < 0 {
		return fmt.Errorf("engine.initial_capital must not be negative")
	}
	return nil
}

// StoreOptions maps the storage and alpaca sections onto store.Options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:     c.Storage.Driver,
		DataDir:    c.Storage.DataDir,
		SQLitePath: c.Storage.SQLitePath,
		Postgres:   store.PostgresOption{ConnString: c.Storage.PostgresDSN},
		Alpaca: store.AlpacaOptions{
			APIKey:          c.Alpaca.APIKey,
			APISecret:       c.Alpaca.APISecret,
			DataURL:         c.Alpaca.DataURL,
			Feed:            c.Alpaca.Feed,
			RateLimitPerMin: c.Alpaca.RateLimitPerMin,
		},
	}
}

// NotifyOptions maps the nats section onto notify.Options.
func (c *Config) NotifyOptions() notify.Options {
	return notify.Options{URL: c.NATS.URL, Subject: c.NATS.Subject}
}

// HTTPAddr is the host:port the HTTP API listens on.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddr is the host:port the gRPC API listens on.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = n
		}
	}

	if v := os.Getenv("CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	if v := os.Getenv("ENGINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars take precedence.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
