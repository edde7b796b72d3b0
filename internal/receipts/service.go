package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bher20/ebillmanager/internal/alerting"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/cache"
	"github.com/bher20/ebillmanager/internal/metrics"
	"github.com/bher20/ebillmanager/internal/storage"
)

// KindNotFound labels abonents of a run that do not exist in storage.
const KindNotFound = "not_found"

// TariffSource supplies the tariff history.
type TariffSource interface {
	History(ctx context.Context) ([]billing.TariffVersion, error)
}

// Service loads engine inputs from storage and computes receipts, one at a
// time or as a whole run.
type Service struct {
	engine  *billing.Engine
	store   storage.Storage
	tariffs TariffSource
	cache   *cache.ReceiptCache
	limit   int
	log     *zap.Logger
	now     func() time.Time
}

// NewService wires a receipt service. cache may be nil. limit bounds
// concurrent loads and computations of RunBatch.
func NewService(engine *billing.Engine, store storage.Storage, tariffs TariffSource, c *cache.ReceiptCache, limit int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if limit <= 0 {
		limit = billing.DefaultBatchLimit
	}
	return &Service{
		engine:  engine,
		store:   store,
		tariffs: tariffs,
		cache:   c,
		limit:   limit,
		log:     log.Named("receipts"),
		now:     time.Now,
	}
}

// LoadInput gathers the snapshot of one abonent for period. Each stored meter
// reading takes precedence over the matching reading field of the abonent
// record.
func (s *Service) LoadInput(ctx context.Context, abonentID string, period billing.Period, history []billing.TariffVersion) (billing.Input, error) {
	a, err := s.store.GetAbonent(ctx, abonentID)
	if err != nil {
		return billing.Input{}, err
	}
	in := billing.Input{Abonent: *a, Period: period, Tariffs: history}

	pair, err := s.store.ReadingsForPeriod(ctx, abonentID, period)
	if err != nil {
		return billing.Input{}, fmt.Errorf("readings for %s: %w", abonentID, err)
	}
	if pair.Previous != nil || pair.Current != nil {
		in.Readings = &pair
	}

	if in.PeriodPayments, err = s.store.PaymentsForPeriod(ctx, abonentID, period); err != nil {
		return billing.Input{}, fmt.Errorf("payments for %s: %w", abonentID, err)
	}
	if in.Recalculation, err = s.store.GetRecalculation(ctx, abonentID, period); err != nil {
		return billing.Input{}, fmt.Errorf("recalculation for %s: %w", abonentID, err)
	}
	return in, nil
}

// Receipt computes the receipt of one stored abonent for period.
func (s *Service) Receipt(ctx context.Context, abonentID string, period billing.Period) (*billing.ReceiptDetails, error) {
	history, err := s.tariffs.History(ctx)
	if err != nil {
		return nil, err
	}
	in, err := s.LoadInput(ctx, abonentID, period, history)
	if err != nil {
		return nil, err
	}
	return s.Compute(ctx, in)
}

// Compute runs the engine on a fully specified input, consulting the cache
// first.
func (s *Service) Compute(ctx context.Context, in billing.Input) (*billing.ReceiptDetails, error) {
	started := s.now()

	if r, ok, err := s.cache.Get(ctx, s.engine.Config(), in); err != nil {
		s.log.Warn("receipt cache read failed", zap.String("abonent", in.Abonent.ID), zap.Error(err))
	} else if ok {
		metrics.ReceiptCacheHitsTotal.Inc()
		return r, nil
	}

	r, err := s.engine.Compute(in)
	metrics.ObserveReceipt(started, billing.ErrorKind(err))
	if err != nil {
		s.log.Info("receipt rejected",
			zap.String("abonent", in.Abonent.ID),
			zap.Stringer("period", in.Period),
			zap.String("kind", billing.ErrorKind(err)),
			zap.Error(err))
		return nil, err
	}

	if err := s.cache.Set(ctx, s.engine.Config(), in, r); err != nil {
		s.log.Warn("receipt cache write failed", zap.String("abonent", in.Abonent.ID), zap.Error(err))
	}
	return r, nil
}

// Failure describes one abonent of a run without a receipt.
type Failure struct {
	AbonentID string `json:"abonent_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// RunReport summarizes a receipt run.
type RunReport struct {
	RunID      string                    `json:"run_id"`
	Period     billing.Period            `json:"period"`
	StartedAt  time.Time                 `json:"started_at"`
	Duration   time.Duration             `json:"-"`
	DurationMs int64                     `json:"duration_ms"`
	Total      int                       `json:"total"`
	Succeeded  int                       `json:"succeeded"`
	Failed     int                       `json:"failed"`
	Failures   []Failure                 `json:"failures,omitempty"`
	Receipts   []*billing.ReceiptDetails `json:"receipts,omitempty"`
}

// RunBatch computes receipts for ids, or for every stored abonent when ids is
// empty. Data-quality failures and unknown abonents are recorded per abonent
// and never stop the run. Storage errors abort it.
func (s *Service) RunBatch(ctx context.Context, period billing.Period, ids []string) (*RunReport, error) {
	report := &RunReport{RunID: uuid.New().String(), Period: period, StartedAt: s.now().UTC()}
	log := s.log.With(zap.String("run_id", report.RunID), zap.Stringer("period", period))

	if len(ids) == 0 {
		all, err := s.store.ListAbonents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list abonents: %w", err)
		}
		for _, a := range all {
			ids = append(ids, a.ID)
		}
	}
	report.Total = len(ids)
	log.Info("receipt run started", zap.Int("abonents", len(ids)))

	history, err := s.tariffs.History(ctx)
	if err != nil {
		return nil, err
	}

	inputs := make([]billing.Input, len(ids))
	loadErr := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, id := range ids {
		g.Go(func() error {
			in, err := s.LoadInput(gctx, id, period, history)
			if errors.Is(err, storage.ErrNotFound) {
				loadErr[i] = err
				return nil
			}
			if err != nil {
				return err
			}
			inputs[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}

	pending := make([]billing.Input, 0, len(ids))
	for i := range inputs {
		if loadErr[i] == nil {
			pending = append(pending, inputs[i])
		}
	}
	results := s.engine.ComputeBatch(ctx, pending, s.limit)

	byID := make(map[string]billing.BatchResult, len(results))
	for _, res := range results {
		byID[res.AbonentID] = res
	}

	for i, id := range ids {
		progress := storage.RunProgress{
			RunID:     report.RunID,
			AbonentID: id,
			Period:    period.String(),
			UpdatedAt: s.now().UTC(),
		}

		var res billing.BatchResult
		if loadErr[i] != nil {
			res = billing.BatchResult{AbonentID: id, Err: loadErr[i]}
		} else {
			res = byID[id]
		}

		if res.Err != nil {
			kind := failureKind(res.Err)
			progress.Status = storage.RunStatusFailed
			progress.ErrorKind = kind
			progress.Error = res.Err.Error()
			report.Failed++
			report.Failures = append(report.Failures, Failure{AbonentID: id, Kind: kind, Error: res.Err.Error()})
			metrics.CountReceipt(kind)
		} else {
			progress.Status = storage.RunStatusSuccess
			progress.Total = res.Receipt.TotalToPay
			report.Succeeded++
			report.Receipts = append(report.Receipts, res.Receipt)
			metrics.CountReceipt("")
			if err := s.cache.Set(ctx, s.engine.Config(), inputs[i], res.Receipt); err != nil {
				log.Warn("receipt cache write failed", zap.String("abonent", id), zap.Error(err))
			}
		}

		if err := s.store.SaveRunProgress(ctx, progress); err != nil {
			return nil, fmt.Errorf("save run progress: %w", err)
		}
	}

	report.Duration = s.now().Sub(report.StartedAt)
	report.DurationMs = report.Duration.Milliseconds()
	metrics.UpdateBatchMetrics(report.Total, report.Failed, report.Duration)
	log.Info("receipt run finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// Progress returns the per-abonent outcome of a run.
func (s *Service) Progress(ctx context.Context, runID string) ([]storage.RunProgress, error) {
	return s.store.ListRunProgress(ctx, runID)
}

// Alert converts the report into a webhook and email payload.
func (r *RunReport) Alert(jobName string) alerting.RunAlert {
	a := alerting.RunAlert{
		JobName:   jobName,
		RunID:     r.RunID,
		Period:    r.Period.String(),
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Duration:  r.Duration,
		Timestamp: r.StartedAt.Add(r.Duration),
	}
	for _, f := range r.Failures {
		a.Failures = append(a.Failures, alerting.AbonentFailure(f))
	}
	return a
}

func failureKind(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return KindNotFound
	}
	return billing.ErrorKind(err)
}
