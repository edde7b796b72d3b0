package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/alerting"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/metrics"
	"github.com/bher20/ebillmanager/internal/notification"
	"github.com/bher20/ebillmanager/internal/receipts"
)

const (
	// DefaultSchedule fires at 03:00 UTC on the first day of every month.
	DefaultSchedule       = "0 3 1 * *"
	DefaultJobName        = "monthly_receipts"
	DefaultLockKey  int64 = 42
)

// ErrLockHeld is returned by RunOnce when another worker holds the job lock.
var ErrLockHeld = errors.New("cron: advisory lock held by another worker")

// Config controls the mass-print worker.
type Config struct {
	Schedule   string        `mapstructure:"schedule"`
	JobName    string        `mapstructure:"job_name"`
	LockKey    int64         `mapstructure:"lock_key"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// Runner computes a receipt run.
type Runner interface {
	RunBatch(ctx context.Context, period billing.Period, ids []string) (*receipts.RunReport, error)
}

// JobStore is the locking and bookkeeping the worker needs.
type JobStore interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error
}

// Alerter posts run alerts.
type Alerter interface {
	SendRunAlert(ctx context.Context, alert alerting.RunAlert) error
}

// Notifier emails run summaries.
type Notifier interface {
	SendRunSummary(ctx context.Context, run alerting.RunAlert) error
}

// Worker computes the receipts of the previous month on a cron schedule.
// Advisory locks keep replicas from running the same job concurrently.
type Worker struct {
	cfg      Config
	runner   Runner
	store    JobStore
	alerter  Alerter
	notifier Notifier
	log      *zap.Logger
}

// NewWorker validates the schedule. alerter and notifier may be nil.
func NewWorker(cfg Config, runner Runner, store JobStore, alerter Alerter, notifier Notifier, log *zap.Logger) (*Worker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.JobName == "" {
		cfg.JobName = DefaultJobName
	}
	if cfg.LockKey == 0 {
		cfg.LockKey = DefaultLockKey
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	return &Worker{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		alerter:  alerter,
		notifier: notifier,
		log:      log.Named("cron").With(zap.String("job", cfg.JobName)),
	}, nil
}

// PeriodFor returns the billing period a run fired at firedAt covers: the
// month before the fire time.
func PeriodFor(firedAt time.Time) billing.Period {
	return billing.PeriodOf(firedAt).Previous()
}

// Start runs the schedule until ctx is cancelled, then waits for a running
// job to finish.
func (w *Worker) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.RunOnce(ctx, time.Now()); err != nil && !errors.Is(err, ErrLockHeld) {
			w.log.Error("scheduled run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	w.log.Info("cron worker starting", zap.String("schedule", w.cfg.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info("cron worker stopped")
	return nil
}

// RunOnce computes the run for the period implied by firedAt while holding
// the job lock. Runs with failed abonents are alerted and emailed.
func (w *Worker) RunOnce(ctx context.Context, firedAt time.Time) (*receipts.RunReport, error) {
	started := time.Now()
	period := PeriodFor(firedAt)
	log := w.log.With(zap.Stringer("period", period))

	ok, err := w.store.AcquireAdvisoryLock(ctx, w.cfg.LockKey)
	if err != nil {
		metrics.UpdateJobMetrics(w.cfg.JobName, started, err)
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !ok {
		log.Info("advisory lock held by another worker, skipping run")
		return nil, ErrLockHeld
	}
	defer func() {
		if _, err := w.store.ReleaseAdvisoryLock(context.WithoutCancel(ctx), w.cfg.LockKey); err != nil {
			log.Error("release advisory lock failed", zap.Error(err))
		}
	}()

	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	report, runErr := w.runner.RunBatch(runCtx, period, nil)

	jobErr := runErr
	if jobErr == nil && report.Failed > 0 {
		jobErr = fmt.Errorf("%d of %d receipts failed", report.Failed, report.Total)
	}
	metrics.UpdateJobMetrics(w.cfg.JobName, started, jobErr)

	errMsg := ""
	if jobErr != nil {
		errMsg = jobErr.Error()
	}
	bookCtx := context.WithoutCancel(ctx)
	if err := w.store.UpdateScheduledJob(bookCtx, w.cfg.JobName, started, time.Since(started), jobErr == nil, errMsg); err != nil {
		log.Error("update scheduled job failed", zap.Error(err))
	}

	if runErr != nil {
		log.Error("receipt run failed", zap.Error(runErr))
		return nil, runErr
	}
	if report.Failed > 0 {
		w.report(bookCtx, report.Alert(w.cfg.JobName))
	}
	log.Info("receipt run completed",
		zap.String("run_id", report.RunID),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", time.Since(started)))
	return report, nil
}

func (w *Worker) report(ctx context.Context, alert alerting.RunAlert) {
	if w.alerter != nil {
		if err := w.alerter.SendRunAlert(ctx, alert); err != nil {
			w.log.Error("send run alert failed", zap.Error(err))
		}
	}
	if w.notifier != nil {
		err := w.notifier.SendRunSummary(ctx, alert)
		switch {
		case errors.Is(err, notification.ErrNotConfigured):
			w.log.Debug("email summary not configured")
		case err != nil:
			w.log.Error("send run summary failed", zap.Error(err))
		}
	}
}
