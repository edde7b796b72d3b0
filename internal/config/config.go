package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/bher20/ebillmanager/internal/alerting"
	"github.com/bher20/ebillmanager/internal/auth"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/cache"
	"github.com/bher20/ebillmanager/internal/cron"
	"github.com/bher20/ebillmanager/internal/logging"
	"github.com/bher20/ebillmanager/internal/notification"
	"github.com/bher20/ebillmanager/internal/storage"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

// EnvPrefix prefixes every environment override, e.g. EBILL_STORAGE_DSN.
const EnvPrefix = "EBILL"

// Config holds all application configuration.
type Config struct {
	HTTP         HTTPConfig
	Storage      storage.Config
	Redis        cache.Config
	Billing      BillingConfig
	Tariffs      tariffs.Config
	Worker       cron.Config
	Alerting     alerting.Config
	Notification notification.Config
	Log          logging.Config
	Auth         auth.Config
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// BillingConfig holds engine policy. Decimal values are kept as strings so
// that they survive YAML and environment variables without float rounding.
type BillingConfig struct {
	PersonNorm            string
	Weights               WeightsConfig
	DefaultControllerName string
	DefaultAccountPrefix  string
	Company               billing.CompanySettings
	// BatchLimit bounds concurrent loads and computations of a receipt run.
	BatchLimit int
}

// WeightsConfig mirrors billing.AllocationWeights.
type WeightsConfig struct {
	Water             string
	Sewerage          string
	Garbage           string
	WaterOnlyWater    string
	WaterOnlySewerage string
}

// Load reads configuration. Priority, highest first:
//  1. EBILL_* environment variables (EBILL_STORAGE_DRIVER, ...)
//  2. the config file: path when given, otherwise ebillmanager.yaml in the
//     working directory or /etc/ebillmanager
//  3. built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ebillmanager")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ebillmanager")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
		},
		Storage: storage.Config{
			Driver:      v.GetString("storage.driver"),
			DSN:         v.GetString("storage.dsn"),
			AutoMigrate: v.GetBool("storage.auto_migrate"),
			LogLevel:    v.GetString("storage.log_level"),
		},
		Redis: cache.Config{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Billing: BillingConfig{
			PersonNorm: v.GetString("billing.person_norm"),
			Weights: WeightsConfig{
				Water:             v.GetString("billing.weights.water"),
				Sewerage:          v.GetString("billing.weights.sewerage"),
				Garbage:           v.GetString("billing.weights.garbage"),
				WaterOnlyWater:    v.GetString("billing.weights.water_only_water"),
				WaterOnlySewerage: v.GetString("billing.weights.water_only_sewerage"),
			},
			DefaultControllerName: v.GetString("billing.default_controller_name"),
			DefaultAccountPrefix:  v.GetString("billing.default_account_prefix"),
			Company: billing.CompanySettings{
				Name:        v.GetString("billing.company.name"),
				Address:     v.GetString("billing.company.address"),
				Phone:       v.GetString("billing.company.phone"),
				BankDetails: v.GetString("billing.company.bank_details"),
				TaxID:       v.GetString("billing.company.tax_id"),
			},
			BatchLimit: v.GetInt("billing.batch_limit"),
		},
		Tariffs: tariffs.Config{
			File:         v.GetString("tariffs.file"),
			PercentScale: tariffs.PercentScale(v.GetString("tariffs.percent_scale")),
		},
		Worker: cron.Config{
			Schedule:   v.GetString("worker.schedule"),
			JobName:    v.GetString("worker.job_name"),
			LockKey:    v.GetInt64("worker.lock_key"),
			RunTimeout: v.GetDuration("worker.run_timeout"),
		},
		Alerting: alerting.Config{
			WebhookURL:             v.GetString("alerting.webhook_url"),
			WebhookType:            v.GetString("alerting.webhook_type"),
			MinFailuresBeforeAlert: v.GetInt("alerting.min_failures"),
			Timeout:                v.GetDuration("alerting.timeout"),
		},
		Notification: notification.Config{
			Provider:    v.GetString("notification.provider"),
			Host:        v.GetString("notification.host"),
			Port:        v.GetInt("notification.port"),
			Username:    v.GetString("notification.username"),
			Password:    v.GetString("notification.password"),
			Encryption:  v.GetString("notification.encryption"),
			APIKey:      v.GetString("notification.api_key"),
			FromAddress: v.GetString("notification.from_address"),
			FromName:    v.GetString("notification.from_name"),
			Recipients:  v.GetStringSlice("notification.recipients"),
		},
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Auth: auth.Config{
			Enabled:    v.GetBool("auth.enabled"),
			AdminToken: v.GetString("auth.admin_token"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.max_body_bytes", 10<<20)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("storage.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", cache.DefaultTTL)

	def := billing.DefaultConfig()
	v.SetDefault("billing.person_norm", def.PersonNorm.String())
	v.SetDefault("billing.weights.water", def.Weights.Water.String())
	v.SetDefault("billing.weights.sewerage", def.Weights.Sewerage.String())
	v.SetDefault("billing.weights.garbage", def.Weights.Garbage.String())
	v.SetDefault("billing.weights.water_only_water", def.Weights.WaterOnlyWater.String())
	v.SetDefault("billing.weights.water_only_sewerage", def.Weights.WaterOnlySewerage.String())
	v.SetDefault("billing.default_controller_name", "")
	v.SetDefault("billing.default_account_prefix", "")
	for _, k := range []string{"name", "address", "phone", "bank_details", "tax_id"} {
		v.SetDefault("billing.company."+k, "")
	}
	v.SetDefault("billing.batch_limit", billing.DefaultBatchLimit)

	v.SetDefault("tariffs.file", "")
	v.SetDefault("tariffs.percent_scale", string(tariffs.ScaleFraction))

	v.SetDefault("worker.schedule", cron.DefaultSchedule)
	v.SetDefault("worker.job_name", cron.DefaultJobName)
	v.SetDefault("worker.lock_key", cron.DefaultLockKey)
	v.SetDefault("worker.run_timeout", time.Hour)

	v.SetDefault("alerting.webhook_url", "")
	v.SetDefault("alerting.webhook_type", "")
	v.SetDefault("alerting.min_failures", 1)
	v.SetDefault("alerting.timeout", 10*time.Second)

	v.SetDefault("notification.provider", "")
	v.SetDefault("notification.host", "")
	v.SetDefault("notification.port", 587)
	v.SetDefault("notification.username", "")
	v.SetDefault("notification.password", "")
	v.SetDefault("notification.encryption", "tls")
	v.SetDefault("notification.api_key", "")
	v.SetDefault("notification.from_address", "")
	v.SetDefault("notification.from_name", "ebillmanager")
	v.SetDefault("notification.recipients", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.admin_token", "")
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
	}
	switch c.Tariffs.PercentScale {
	case tariffs.ScaleFraction, tariffs.ScaleWhole:
	default:
		return fmt.Errorf("tariffs.percent_scale: must be %q or %q", tariffs.ScaleFraction, tariffs.ScaleWhole)
	}
	if c.Billing.BatchLimit <= 0 {
		return errors.New("billing.batch_limit must be positive")
	}
	if _, err := c.Billing.EngineConfig(); err != nil {
		return err
	}
	return nil
}

// EngineConfig converts the billing section into an engine configuration.
func (b BillingConfig) EngineConfig() (billing.Config, error) {
	fields := []struct {
		key string
		raw string
	}{
		{"billing.person_norm", b.PersonNorm},
		{"billing.weights.water", b.Weights.Water},
		{"billing.weights.sewerage", b.Weights.Sewerage},
		{"billing.weights.garbage", b.Weights.Garbage},
		{"billing.weights.water_only_water", b.Weights.WaterOnlyWater},
		{"billing.weights.water_only_sewerage", b.Weights.WaterOnlySewerage},
	}
	vals := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return billing.Config{}, fmt.Errorf("%s: invalid decimal %q", f.key, f.raw)
		}
		vals[i] = d
	}

	cfg := billing.Config{
		PersonNorm: vals[0],
		Weights: billing.AllocationWeights{
			Water:             vals[1],
			Sewerage:          vals[2],
			Garbage:           vals[3],
			WaterOnlyWater:    vals[4],
			WaterOnlySewerage: vals[5],
		},
		DefaultControllerName: b.DefaultControllerName,
		DefaultAccountPrefix:  b.DefaultAccountPrefix,
		Company:               b.Company,
	}
	if cfg.PersonNorm.IsNegative() {
		return billing.Config{}, fmt.Errorf("billing.person_norm: must not be negative")
	}
	if err := cfg.Weights.Validate(); err != nil {
		return billing.Config{}, fmt.Errorf("billing.weights: %w", err)
	}
	return cfg, nil
}
