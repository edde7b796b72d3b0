package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/logging"
	"github.com/bher20/ebillmanager/internal/migrate"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	LogLevel    string `mapstructure:"log_level"`
}

// Open constructs a Storage based on the given configuration. GORM backends
// are migrated with the embedded goose migrations when AutoMigrate is set.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (Storage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	switch drv {
	case "memory":
		log.Info("storage: using in-memory backend")
		return NewMemory(), nil

	case "sqlite", "postgres":
		log.Info("storage: using gorm backend", zap.String("driver", drv))
		st, err := NewGormStorage(drv, cfg.DSN, logging.NewGormLogger(log, logging.GormLevel(cfg.LogLevel)))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", drv, err)
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx, log); err != nil {
				st.Close()
				return nil, fmt.Errorf("storage migrate: %w", err)
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}

// Migrate applies pending schema migrations.
func (s *GormStorage) Migrate(ctx context.Context, log *zap.Logger) error {
	db, err := s.DB()
	if err != nil {
		return err
	}
	results, err := migrate.Up(ctx, db, s.Dialect())
	if err != nil {
		return err
	}
	for _, r := range results {
		log.Info("storage: applied migration",
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration))
	}
	return nil
}
