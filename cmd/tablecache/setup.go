package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/tablecache/pkg/config"
	"github.com/pario-ai/tablecache/pkg/logging"
	"github.com/pario-ai/tablecache/pkg/manager"
	"github.com/pario-ai/tablecache/pkg/store"
	"github.com/pario-ai/tablecache/pkg/store/memory"
	"github.com/pario-ai/tablecache/pkg/store/redis"
	"github.com/pario-ai/tablecache/pkg/store/sqlite"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// openStorage opens the cache store backend selected by cfg.Storage.Driver.
func openStorage(ctx context.Context, cfg *config.Config) (store.Storage, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		s, err := sqlite.New(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite storage: %w", err)
		}
		return s, nil
	case "redis":
		s, err := redis.Dial(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cfg.Storage.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("init redis storage: %w", err)
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalid, cfg.Storage.Driver)
	}
}

func newManager(cfg *config.Config, storage store.Storage, logger *zap.Logger) (*manager.Manager, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	return manager.New(storage, manager.Options{
		Origin:             origin,
		Version:            cfg.Version,
		Manifest:           cfg.Manifest,
		OfflineDocument:    cfg.OfflineDocument,
		SkipWaiting:        cfg.SkipWaiting,
		ClaimClients:       cfg.ClaimClients,
		Logger:             logger,
		QueueSize:          cfg.Writer.QueueSize,
		Workers:            cfg.Writer.Workers,
		InstallConcurrency: cfg.Install.Concurrency,
	})
}
