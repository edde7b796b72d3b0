package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/ebillmanager/internal/billing"
)

// ErrNotFound is returned by lookups of a single record that does not exist.
var ErrNotFound = errors.New("storage: not found")

// Storage abstracts persistence for the records the receipt engine reads and
// the bookkeeping of the calling layer.
type Storage interface {
	// Abonents
	ListAbonents(ctx context.Context) ([]billing.Abonent, error)
	GetAbonent(ctx context.Context, id string) (*billing.Abonent, error)
	UpsertAbonent(ctx context.Context, a billing.Abonent) error

	// Meter readings
	AppendMeterReading(ctx context.Context, r billing.MeterReading) error
	// ReadingsForPeriod returns the latest reading before the period start and
	// the latest reading inside the period. Either side may be nil.
	ReadingsForPeriod(ctx context.Context, abonentID string, p billing.Period) (billing.ReadingPair, error)

	// Payments
	RecordPayment(ctx context.Context, p Payment) error
	PaymentsForPeriod(ctx context.Context, abonentID string, p billing.Period) (decimal.Decimal, error)

	// Recalculations. GetRecalculation returns nil, nil when none is recorded.
	SaveRecalculation(ctx context.Context, abonentID string, p billing.Period, r billing.Recalculation) error
	GetRecalculation(ctx context.Context, abonentID string, p billing.Period) (*billing.Recalculation, error)

	// Tariffs
	ListTariffVersions(ctx context.Context) ([]billing.TariffVersion, error)
	UpsertTariffVersion(ctx context.Context, v billing.TariffVersion) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Tokens
	CreateToken(ctx context.Context, t Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	ListTokens(ctx context.Context) ([]Token, error)
	DeleteToken(ctx context.Context, id string) error
	UpdateTokenLastUsed(ctx context.Context, id string) error

	// Receipt runs
	SaveRunProgress(ctx context.Context, p RunProgress) error
	ListRunProgress(ctx context.Context, runID string) ([]RunProgress, error)

	// Scheduled jobs and locking
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error
	GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error)

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}

// Payment is one posted payment of an abonent.
type Payment struct {
	ID        string          `json:"id"`
	AbonentID string          `json:"abonent_id"`
	PaidOn    billing.Date    `json:"paid_on"`
	Amount    decimal.Decimal `json:"amount"`
}

// Token is an API access token. Only the sha256 hash of the secret is kept.
type Token struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	Name       string     `json:"name" gorm:"column:name"`
	TokenHash  string     `json:"-" gorm:"uniqueIndex;column:token_hash"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" gorm:"column:last_used_at"`
}

// Run progress statuses.
const (
	RunStatusPending = "pending"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// RunProgress records the outcome of one abonent inside a receipt run.
type RunProgress struct {
	RunID     string          `json:"run_id" gorm:"primaryKey;column:run_id"`
	AbonentID string          `json:"abonent_id" gorm:"primaryKey;column:abonent_id"`
	Period    string          `json:"period" gorm:"column:period"`
	Status    string          `json:"status" gorm:"column:status"`
	ErrorKind string          `json:"error_kind,omitempty" gorm:"column:error_kind"`
	Error     string          `json:"error,omitempty" gorm:"column:error"`
	Total     decimal.Decimal `json:"total" gorm:"column:total"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (RunProgress) TableName() string { return "run_progress" }

// ScheduledJob is the last-run record of a cron job.
type ScheduledJob struct {
	Name           string    `json:"name" gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `json:"last_run_at" gorm:"column:last_run_at"`
	LastDurationMs int64     `json:"last_duration_ms" gorm:"column:last_duration_ms"`
	LastSuccess    int       `json:"last_success" gorm:"column:last_success"`
	LastError      string    `json:"last_error" gorm:"column:last_error"`
}
