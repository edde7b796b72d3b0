package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bher20/ebillmanager/internal/billing"
)

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("storage: conflict")

// GormStorage implements Storage over GORM for SQLite and Postgres.
type GormStorage struct {
	db *gorm.DB

	// Postgres advisory locks are session scoped, so each held lock pins the
	// connection it was taken on.
	lockMu sync.Mutex
	locks  map[int64]*sql.Conn
}

// NewGormStorage opens a GORM connection. driver is "sqlite" or "postgres".
func NewGormStorage(driver, dsn string, log gormlogger.Interface) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
	if log == nil {
		log = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY on concurrent writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &GormStorage{db: db, locks: make(map[int64]*sql.Conn)}, nil
}

// DB returns the underlying database handle, used by the migrator.
func (s *GormStorage) DB() (*sql.DB, error) { return s.db.DB() }

// Dialect is the GORM dialector name: "sqlite" or "postgres".
func (s *GormStorage) Dialect() string { return s.db.Dialector.Name() }

func notFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func upsert(columns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(columns))
	for i, c := range columns {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}

// Abonents

func (s *GormStorage) ListAbonents(ctx context.Context) ([]billing.Abonent, error) {
	var rows []abonentRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]billing.Abonent, len(rows))
	for i, r := range rows {
		out[i] = r.toAbonent()
	}
	return out, nil
}

func (s *GormStorage) GetAbonent(ctx context.Context, id string) (*billing.Abonent, error) {
	var row abonentRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("abonent %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	a := row.toAbonent()
	return &a, nil
}

func (s *GormStorage) UpsertAbonent(ctx context.Context, a billing.Abonent) error {
	row := abonentToRow(a)
	return s.db.WithContext(ctx).Clauses(upsert("id")).Create(&row).Error
}

// Meter readings

func (s *GormStorage) AppendMeterReading(ctx context.Context, r billing.MeterReading) error {
	row := meterReadingRow{AbonentID: r.AbonentID, ReadingDate: r.Date.UTC(), Value: r.Value}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStorage) ReadingsForPeriod(ctx context.Context, abonentID string, p billing.Period) (billing.ReadingPair, error) {
	var pair billing.ReadingPair
	latest := func(query string, args ...any) (*billing.MeterReading, error) {
		var row meterReadingRow
		err := s.db.WithContext(ctx).
			Where("abonent_id = ?", abonentID).
			Where(query, args...).
			Order("reading_date desc, id desc").
			First(&row).Error
		if notFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return row.toReading(), nil
	}

	var err error
	if pair.Previous, err = latest("reading_date < ?", p.Start()); err != nil {
		return pair, err
	}
	if pair.Current, err = latest("reading_date >= ? AND reading_date < ?", p.Start(), p.End()); err != nil {
		return pair, err
	}
	return pair, nil
}

// Payments

func (s *GormStorage) RecordPayment(ctx context.Context, p Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := paymentRow{ID: p.ID, AbonentID: p.AbonentID, PaidOn: p.PaidOn.UTC(), Amount: p.Amount}
	err := s.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s: %w", p.ID, ErrConflict)
	}
	return err
}

func (s *GormStorage) PaymentsForPeriod(ctx context.Context, abonentID string, p billing.Period) (decimal.Decimal, error) {
	var rows []paymentRow
	err := s.db.WithContext(ctx).
		Where("abonent_id = ? AND paid_on >= ? AND paid_on < ?", abonentID, p.Start(), p.End()).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	// Summed here: SQLite has no exact decimal SUM over TEXT columns.
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Amount)
	}
	return sum, nil
}

// Recalculations

func (s *GormStorage) SaveRecalculation(ctx context.Context, abonentID string, p billing.Period, r billing.Recalculation) error {
	row := recalculationRow{AbonentID: abonentID, Period: p.String(), Water: r.Water, Sewerage: r.Sewerage, Garbage: r.Garbage}
	return s.db.WithContext(ctx).Clauses(upsert("abonent_id", "period")).Create(&row).Error
}

func (s *GormStorage) GetRecalculation(ctx context.Context, abonentID string, p billing.Period) (*billing.Recalculation, error) {
	var row recalculationRow
	err := s.db.WithContext(ctx).First(&row, "abonent_id = ? AND period = ?", abonentID, p.String()).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &billing.Recalculation{Water: row.Water, Sewerage: row.Sewerage, Garbage: row.Garbage}, nil
}

// Tariffs

func (s *GormStorage) ListTariffVersions(ctx context.Context) ([]billing.TariffVersion, error) {
	var rows []tariffRow
	if err := s.db.WithContext(ctx).Order("effective_date").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]billing.TariffVersion, 0, len(rows))
	for _, r := range rows {
		v, err := r.toTariff()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *GormStorage) UpsertTariffVersion(ctx context.Context, v billing.TariffVersion) error {
	row, err := tariffToRow(v)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(upsert("effective_date")).Create(&row).Error
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var row settingRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if notFound(err) {
		return "", nil
	}
	return row.Value, err
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	row := settingRow{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(upsert("key")).Create(&row).Error
}

// Tokens

func (s *GormStorage) CreateToken(ctx context.Context, t Token) error {
	err := s.db.WithContext(ctx).Create(&t).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("token %s: %w", t.ID, ErrConflict)
	}
	return err
}

func (s *GormStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	var t Token
	if err := s.db.WithContext(ctx).First(&t, "token_hash = ?", hash).Error; err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *GormStorage) ListTokens(ctx context.Context) ([]Token, error) {
	var tokens []Token
	err := s.db.WithContext(ctx).Order("created_at").Find(&tokens).Error
	return tokens, err
}

func (s *GormStorage) DeleteToken(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Token{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Token{}).Where("id = ?", id).Update("last_used_at", time.Now().UTC()).Error
}

// Receipt runs

func (s *GormStorage) SaveRunProgress(ctx context.Context, p RunProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(upsert("run_id", "abonent_id")).Create(&p).Error
}

func (s *GormStorage) ListRunProgress(ctx context.Context, runID string) ([]RunProgress, error) {
	var out []RunProgress
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("abonent_id").Find(&out).Error
	return out, err
}

// Scheduled jobs and locking

func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.Dialect() != "postgres" {
		// SQLite deployments are single instance.
		return true, nil
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, held := s.locks[key]; held {
		return false, nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	s.locks[key] = conn
	return true, nil
}

func (s *GormStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if s.Dialect() != "postgres" {
		return true, nil
	}
	s.lockMu.Lock()
	conn, held := s.locks[key]
	delete(s.locks, key)
	s.lockMu.Unlock()
	if !held {
		return false, nil
	}
	defer conn.Close()

	var ok bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	return ok, err
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started.UTC(),
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(upsert("name")).Create(&job).Error
}

func (s *GormStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	var job ScheduledJob
	if err := s.db.WithContext(ctx).First(&job, "name = ?", name).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("scheduled job %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// Close & Ping

func (s *GormStorage) Close() error {
	s.lockMu.Lock()
	for key, conn := range s.locks {
		conn.Close()
		delete(s.locks, key)
	}
	s.lockMu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
