package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/alerting"
	"github.com/bher20/ebillmanager/internal/auth"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/cache"
	"github.com/bher20/ebillmanager/internal/config"
	"github.com/bher20/ebillmanager/internal/cron"
	"github.com/bher20/ebillmanager/internal/logging"
	"github.com/bher20/ebillmanager/internal/notification"
	"github.com/bher20/ebillmanager/internal/receipts"
	"github.com/bher20/ebillmanager/internal/storage"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

// app holds the services shared by the subcommands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    storage.Storage
	cache    *cache.ReceiptCache
	engine   *billing.Engine
	tariffs  *tariffs.Service
	receipts *receipts.Service
	auth     *auth.Service
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if a.store, err = storage.Open(ctx, cfg.Storage, log); err != nil {
		return nil, err
	}
	if a.cache, err = cache.New(ctx, cfg.Redis, log); err != nil {
		a.store.Close()
		return nil, err
	}

	engineCfg, err := cfg.Billing.EngineConfig()
	if err != nil {
		a.close()
		return nil, err
	}
	if a.engine, err = billing.NewEngine(engineCfg); err != nil {
		a.close()
		return nil, err
	}

	a.tariffs = tariffs.NewService(cfg.Tariffs, a.store, log)
	a.receipts = receipts.NewService(a.engine, a.store, a.tariffs, a.cache, cfg.Billing.BatchLimit, log)
	if a.auth, err = auth.NewService(cfg.Auth, a.store, log); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) worker() (*cron.Worker, error) {
	return cron.NewWorker(a.cfg.Worker, a.receipts, a.store,
		alerting.NewAlerter(a.cfg.Alerting, a.log),
		notification.NewService(a.cfg.Notification, a.log),
		a.log)
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close cache", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close storage", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
