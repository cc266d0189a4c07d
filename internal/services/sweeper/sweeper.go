// Package sweeper — плановый проход по товарам, залежавшимся в Китае:
// всё старше порога transit_hours переводится в статус "в пути".
package sweeper

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
	"github.com/pkg/errors"
)

type Repository interface {
	GetSettingValue(ctx context.Context, key string) (string, bool, error)
	SweepChinaToTransit(ctx context.Context, in pgcargo.SweepInput) (*pgcargo.SweepResult, error)
}

// Result — итог одного прохода. Ошибка возвращается в составе результата,
// а не паникой: джоба работает без присмотра и не должна ронять планировщик.
type Result struct {
	UpdatedCount int       `json:"updated_count"`
	UpdatedIDs   []uint64  `json:"updated_ids"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

type Sweeper struct {
	repo     Repository
	statuses lifecycle.StatusSet

	interval time.Duration
	now      func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastRunUnixNano   atomic.Int64
	totalRuns         atomic.Int64
	totalUpdated      atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, statuses lifecycle.StatusSet) *Sweeper {
	return &Sweeper{
		repo:              repo,
		statuses:          statuses,
		interval:          24 * time.Hour,
		now:               time.Now,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Trigger запускает внеочередной проход (best-effort, неблокирующий).
func (s *Sweeper) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt    time.Time  `json:"startedAt"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	TotalRuns    int64      `json:"totalRuns"`
	TotalUpdated int64      `json:"totalUpdated"`
	TotalErrors  int64      `json:"totalErrors"`
	LastError    string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalRuns:    s.totalRuns.Load(),
		TotalUpdated: s.totalUpdated.Load(),
		TotalErrors:  s.totalErrors.Load(),
	}
	if n := s.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	res := s.RunOnce(ctx)
	if res.Error != "" {
		slog.Error("lifecycle sweep", "error", res.Error)
		return
	}
	slog.Info("lifecycle sweep", "updated", res.UpdatedCount)
}

// RunOnce выполняет один проход: читает порог transit_hours, переводит
// залежавшиеся товары в транзит одной транзакцией и складывает
// уведомления клиентам в outbox. Любая ошибка откатывает весь проход и
// возвращается в Result.Error.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	now := s.now()
	s.lastRunUnixNano.Store(now.UTC().UnixNano())
	s.totalRuns.Add(1)

	res := Result{Timestamp: now.UTC()}

	hours, err := s.transitHours(ctx)
	if err != nil {
		return s.fail(res, err)
	}

	chinaID, ok := s.statuses.ID(lifecycle.StatusChina)
	if !ok {
		return s.fail(res, errors.Errorf("status %q is not configured", lifecycle.StatusChina))
	}
	transitID, ok := s.statuses.ID(lifecycle.StatusTransit)
	if !ok {
		return s.fail(res, errors.Errorf("status %q is not configured", lifecycle.StatusTransit))
	}

	swept, err := s.repo.SweepChinaToTransit(ctx, pgcargo.SweepInput{
		ChinaStatusID:   chinaID,
		TransitStatusID: transitID,
		Cutoff:          now.Add(-time.Duration(hours) * time.Hour),
		Now:             now,
	})
	if err != nil {
		return s.fail(res, err)
	}

	res.UpdatedCount = swept.UpdatedCount
	res.UpdatedIDs = swept.UpdatedIDs
	s.totalUpdated.Add(int64(swept.UpdatedCount))
	return res
}

func (s *Sweeper) transitHours(ctx context.Context) (int, error) {
	value, ok, err := s.repo.GetSettingValue(ctx, "transit_hours")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("setting transit_hours is not configured")
	}
	hours, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "setting transit_hours %q", value)
	}
	return hours, nil
}

func (s *Sweeper) fail(res Result, err error) Result {
	res.Error = err.Error()
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = res.Error
	s.lastErrorMu.Unlock()
	return res
}
