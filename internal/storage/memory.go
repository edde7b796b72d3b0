package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bher20/ebillmanager/internal/billing"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu            sync.RWMutex
	abonents      map[string]billing.Abonent
	readings      map[string][]billing.MeterReading
	payments      map[string]Payment
	recalcs       map[string]billing.Recalculation
	tariffs       map[string]billing.TariffVersion
	settings      map[string]string
	tokens        map[string]Token
	runs          map[string]map[string]RunProgress
	jobs          map[string]ScheduledJob
	advisoryLocks map[int64]struct{}
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		abonents:      make(map[string]billing.Abonent),
		readings:      make(map[string][]billing.MeterReading),
		payments:      make(map[string]Payment),
		recalcs:       make(map[string]billing.Recalculation),
		tariffs:       make(map[string]billing.TariffVersion),
		settings:      make(map[string]string),
		tokens:        make(map[string]Token),
		runs:          make(map[string]map[string]RunProgress),
		jobs:          make(map[string]ScheduledJob),
		advisoryLocks: make(map[int64]struct{}),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) ListAbonents(ctx context.Context) ([]billing.Abonent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.Abonent, 0, len(m.abonents))
	for _, a := range m.abonents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) GetAbonent(ctx context.Context, id string) (*billing.Abonent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.abonents[id]
	if !ok {
		return nil, fmt.Errorf("abonent %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryStorage) UpsertAbonent(ctx context.Context, a billing.Abonent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abonents[a.ID] = a
	return nil
}

func (m *MemoryStorage) AppendMeterReading(ctx context.Context, r billing.MeterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[r.AbonentID] = append(m.readings[r.AbonentID], r)
	return nil
}

func (m *MemoryStorage) ReadingsForPeriod(ctx context.Context, abonentID string, p billing.Period) (billing.ReadingPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := p.Start(), p.End()
	var pair billing.ReadingPair
	// Later appends win ties on the same date.
	for i := range m.readings[abonentID] {
		r := m.readings[abonentID][i]
		switch {
		case r.Date.Before(start):
			if pair.Previous == nil || !r.Date.Before(pair.Previous.Date.Time) {
				pair.Previous = &r
			}
		case r.Date.Before(end):
			if pair.Current == nil || !r.Date.Before(pair.Current.Date.Time) {
				pair.Current = &r
			}
		}
	}
	return pair, nil
}

func (m *MemoryStorage) RecordPayment(ctx context.Context, p Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := m.payments[p.ID]; exists {
		return fmt.Errorf("payment %s: %w", p.ID, ErrConflict)
	}
	m.payments[p.ID] = p
	return nil
}

func (m *MemoryStorage) PaymentsForPeriod(ctx context.Context, abonentID string, p billing.Period) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := p.Start(), p.End()
	sum := decimal.Zero
	for _, pay := range m.payments {
		if pay.AbonentID == abonentID && !pay.PaidOn.Before(start) && pay.PaidOn.Before(end) {
			sum = sum.Add(pay.Amount)
		}
	}
	return sum, nil
}

func recalcKey(abonentID string, p billing.Period) string { return abonentID + ":" + p.String() }

func (m *MemoryStorage) SaveRecalculation(ctx context.Context, abonentID string, p billing.Period, r billing.Recalculation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recalcs[recalcKey(abonentID, p)] = r
	return nil
}

func (m *MemoryStorage) GetRecalculation(ctx context.Context, abonentID string, p billing.Period) (*billing.Recalculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recalcs[recalcKey(abonentID, p)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStorage) ListTariffVersions(ctx context.Context) ([]billing.TariffVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.TariffVersion, 0, len(m.tariffs))
	for _, v := range m.tariffs {
		out = append(out, v)
	}
	return billing.SortHistory(out), nil
}

func (m *MemoryStorage) UpsertTariffVersion(ctx context.Context, v billing.TariffVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tariffs[v.EffectiveDate.String()] = v
	return nil
}

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MemoryStorage) CreateToken(ctx context.Context, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tokens {
		if existing.ID == t.ID || existing.TokenHash == t.TokenHash {
			return fmt.Errorf("token %s: %w", t.ID, ErrConflict)
		}
	}
	m.tokens[t.ID] = t
	return nil
}

func (m *MemoryStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) ListTokens(ctx context.Context) ([]Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) DeleteToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	delete(m.tokens, id)
	return nil
}

func (m *MemoryStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		now := time.Now().UTC()
		t.LastUsedAt = &now
		m.tokens[id] = t
	}
	return nil
}

func (m *MemoryStorage) SaveRunProgress(ctx context.Context, p RunProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	run, ok := m.runs[p.RunID]
	if !ok {
		run = make(map[string]RunProgress)
		m.runs[p.RunID] = run
	}
	run[p.AbonentID] = p
	return nil
}

func (m *MemoryStorage) ListRunProgress(ctx context.Context, runID string) ([]RunProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunProgress, 0, len(m.runs[runID]))
	for _, p := range m.runs[runID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AbonentID < out[j].AbonentID })
	return out, nil
}

func (m *MemoryStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.advisoryLocks[key]; held {
		return false, nil
	}
	m.advisoryLocks[key] = struct{}{}
	return true, nil
}

func (m *MemoryStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.advisoryLocks[key]; !held {
		return false, nil
	}
	delete(m.advisoryLocks, key)
	return true, nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := 0
	if success {
		status = 1
	}
	m.jobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      started.UTC(),
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return nil
}

func (m *MemoryStorage) GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[name]
	if !ok {
		return nil, fmt.Errorf("scheduled job %s: %w", name, ErrNotFound)
	}
	return &j, nil
}
