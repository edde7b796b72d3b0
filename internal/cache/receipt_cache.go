package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/billing"
)

// DefaultTTL is used when Config.TTL is not positive.
const DefaultTTL = 24 * time.Hour

// Config holds Redis connection settings for the receipt cache.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ReceiptCache stores computed receipts in Redis keyed by a fingerprint of
// the engine configuration and input. A receipt is a pure function of both,
// so a cached entry never needs invalidating. A disabled cache is a no-op.
type ReceiptCache struct {
	client     *redis.Client
	ownsClient bool
	ttl        time.Duration
	log        *zap.Logger
}

// New connects to Redis when cfg.Enabled is set, otherwise it returns a
// disabled cache.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*ReceiptCache, error) {
	if !cfg.Enabled {
		return &ReceiptCache{log: nopIfNil(log)}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewWithClient(client, cfg.TTL, log)
	c.ownsClient = true
	return c, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *redis.Client, ttl time.Duration, log *zap.Logger) *ReceiptCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ReceiptCache{client: client, ttl: ttl, log: nopIfNil(log).Named("cache")}
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Enabled reports whether the cache is backed by Redis.
func (c *ReceiptCache) Enabled() bool { return c != nil && c.client != nil }

// Key returns receipt:{abonent}:{period}:{fingerprint}, where fingerprint is
// the sha256 of the JSON encoding of cfg and in. Changing any engine policy
// (weights, person norm, company, defaults) therefore changes the key.
func Key(cfg billing.Config, in billing.Input) (string, error) {
	b, err := json.Marshal(struct {
		Config billing.Config `json:"config"`
		Input  billing.Input  `json:"input"`
	}{cfg, in})
	if err != nil {
		return "", fmt.Errorf("fingerprint input: %w", err)
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("receipt:%s:%s:%s", in.Abonent.ID, in.Period, hex.EncodeToString(sum[:])), nil
}

// Get returns the receipt cached for in under cfg. It reports false on a miss.
func (c *ReceiptCache) Get(ctx context.Context, cfg billing.Config, in billing.Input) (*billing.ReceiptDetails, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	key, err := Key(cfg, in)
	if err != nil {
		return nil, false, err
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var r billing.ReceiptDetails
	if err := json.Unmarshal(data, &r); err != nil {
		c.log.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return &r, true, nil
}

// Set stores r, computed from in under cfg.
func (c *ReceiptCache) Set(ctx context.Context, cfg billing.Config, in billing.Input, r *billing.ReceiptDetails) error {
	if !c.Enabled() || r == nil {
		return nil
	}
	key, err := Key(cfg, in)
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Ping checks the Redis connection. A disabled cache is always healthy.
func (c *ReceiptCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the client if the cache created it.
func (c *ReceiptCache) Close() error {
	if c.Enabled() && c.ownsClient {
		return c.client.Close()
	}
	return nil
}
