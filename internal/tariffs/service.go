package tariffs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/billing"
)

// Store is the persistence the service needs.
type Store interface {
	ListTariffVersions(ctx context.Context) ([]billing.TariffVersion, error)
	UpsertTariffVersion(ctx context.Context, v billing.TariffVersion) error
}

// Config controls how the service finds a tariff history.
type Config struct {
	// File is an optional YAML/JSON history loaded when storage is empty.
	File         string       `mapstructure:"file"`
	PercentScale PercentScale `mapstructure:"percent_scale"`
}

// Service serves the tariff history from storage, seeding storage from the
// configured file on first use.
type Service struct {
	cfg   Config
	store Store
	log   *zap.Logger

	mu sync.Mutex
}

// NewService returns a Service over store.
func NewService(cfg Config, store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, store: store, log: log.Named("tariffs")}
}

// History returns the full tariff history ordered by effective date. Storage
// is consulted first; on an empty store the configured file is loaded and
// written back.
func (s *Service) History(ctx context.Context) ([]billing.TariffVersion, error) {
	versions, err := s.store.ListTariffVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tariffs: %w", err)
	}
	if len(versions) > 0 || s.cfg.File == "" {
		return billing.SortHistory(versions), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have seeded the store while we waited.
	if versions, err = s.store.ListTariffVersions(ctx); err != nil {
		return nil, fmt.Errorf("list tariffs: %w", err)
	}
	if len(versions) > 0 {
		return billing.SortHistory(versions), nil
	}

	versions, err = LoadHistoryFile(s.cfg.File, Options{PercentScale: s.cfg.PercentScale})
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if err := s.store.UpsertTariffVersion(ctx, v); err != nil {
			return nil, fmt.Errorf("seed tariff %s: %w", v.EffectiveDate, err)
		}
	}
	s.log.Info("seeded tariff history from file",
		zap.String("file", s.cfg.File),
		zap.Int("versions", len(versions)))
	return versions, nil
}

// Import validates versions against the stored history and upserts them. A
// version with an existing effective date replaces the stored one.
func (s *Service) Import(ctx context.Context, versions []billing.TariffVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ListTariffVersions(ctx)
	if err != nil {
		return fmt.Errorf("list tariffs: %w", err)
	}
	merged := make(map[string]billing.TariffVersion, len(existing)+len(versions))
	for _, v := range existing {
		merged[v.EffectiveDate.String()] = v
	}
	seen := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		key := v.EffectiveDate.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate effective date %s in import", billing.ErrInvalidTariff, key)
		}
		seen[key] = struct{}{}
		merged[key] = v
	}
	all := make([]billing.TariffVersion, 0, len(merged))
	for _, v := range merged {
		all = append(all, v)
	}
	if err := billing.ValidateHistory(all); err != nil {
		return err
	}

	for _, v := range versions {
		if err := s.store.UpsertTariffVersion(ctx, v); err != nil {
			return fmt.Errorf("upsert tariff %s: %w", v.EffectiveDate, err)
		}
	}
	s.log.Info("imported tariffs", zap.Int("versions", len(versions)))
	return nil
}
