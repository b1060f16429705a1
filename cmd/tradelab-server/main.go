package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tradelab/internal/api"
	"tradelab/internal/backtest"
	"tradelab/internal/cache"
	"tradelab/internal/config"
	"tradelab/internal/domain"
	"tradelab/internal/notify"
	"tradelab/internal/store"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/stream"
	"tradelab/internal/util"
)

const defaultConfigPath = "config/tradelab.yaml"

func main() {
	cfgPath := os.Getenv(config.EnvPath)
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tradelab-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	bars, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	defer bars.Close()

	results, closeCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	engine := backtest.NewEngine(bars, results, builtins.NewRegistry(), backtest.Config{
		CacheTTL:        cfg.Cache.TTL,
		InitialCapital:  cfg.Engine.InitialCapital,
		DefaultInterval: domain.Interval(cfg.Engine.DefaultInterval),
		Logger:          logger,
	})
	coord := stream.NewCoordinator(engine, cfg.Engine.Workers, logger)

	if cfg.NATS.URL != "" {
		sub, err := notify.Subscribe(cfg.NotifyOptions(), engine, logger)
		if err != nil {
			return err
		}
		defer sub.Close()
	}

	logger.Info("tradelab-server starting",
		"store", cfg.Storage.Driver,
		"cache", cfg.Cache.Driver,
		"workers", cfg.Engine.Workers,
		"strategies", engine.Registry().List(),
	)
	err = api.NewServer(engine, coord, logger).ListenAndServe(ctx, cfg.HTTPAddr(), cfg.GRPCAddr())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tradelab-server stopped")
	return nil
}

func openCache(ctx context.Context, cfg config.Cache) (cache.Cache, func(), error) {
	switch cfg.Driver {
	case "redis":
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { rc.Close() }, nil
	case "none":
		return cache.Nop{}, func() {}, nil
	default:
		return cache.NewMemory(), func() {}, nil
	}
}
