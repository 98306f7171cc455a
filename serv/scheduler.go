package serv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidInterval is returned for refresh intervals outside 1..168 hours
var ErrInvalidInterval = fmt.Errorf("refresh interval must be between 1 and %d hours", maxRefreshInterval)

// RefreshInfo is written after every executed refresh
type RefreshInfo struct {
	Timestamp  int64 `json:"timestamp"`
	DurationMs int64 `json:"durationMs"`
}

// SchedulerStatus is a snapshot of the scheduler
type SchedulerStatus struct {
	Running       bool       `json:"running"`
	IntervalHours int        `json:"intervalHours"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
}

// Scheduler refreshes the cache at local midnight and then every interval
type Scheduler struct {
	warmer *Warmer
	store  Store
	clock  Clock
	log    *zap.Logger
	auto   bool

	mu       sync.Mutex
	interval time.Duration
	timer    Timer
	running  bool
	nextRun  time.Time

	// gen tells a fire of the current timer from one already replaced
	gen uint64

	// runs are started with this context so Stop does not cut them short
	ctx context.Context
}

func NewScheduler(warmer *Warmer, store Store, clock Clock, log *zap.Logger, conf WarmingConfig) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	hours := conf.RefreshInterval
	if hours < 1 || hours > maxRefreshInterval {
		hours = defaultRefreshInterval
	}
	return &Scheduler{
		warmer:   warmer,
		store:    store,
		clock:    clock,
		log:      log,
		auto:     conf.AutoRefresh,
		interval: time.Duration(hours) * time.Hour,
		ctx:      context.Background(),
	}
}

// Init warms the cache if it is stale and then starts the automatic refresh
// when enabled. It blocks until the startup warm is done.
func (s *Scheduler) Init(ctx context.Context) {
	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	start := s.clock.Now()
	rep, err := s.warmer.PreWarm(ctx)
	switch {
	case errors.Is(err, ErrWarmInProgress):
		s.log.Info("startup warm skipped, a run is in progress")
	case err != nil:
		s.log.Error("startup warm failed", zap.Error(err))
	case !rep.Skipped:
		s.recordRefresh(ctx, start)
	}

	if s.auto {
		s.Start()
	}
}

// Start arms the first refresh for the next local midnight. It does nothing
// when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.arm(untilMidnight(s.clock.Now()))
	s.log.Info("auto refresh started",
		zap.Time("next_run", s.nextRun),
		zap.Duration("interval", s.interval))
}

// Stop cancels any pending refresh, a run in flight finishes
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.disarm()
	s.running = false
	s.log.Info("auto refresh stopped")
}

// SetInterval changes the refresh interval. A running scheduler re-arms for
// now plus the new interval without refreshing immediately.
func (s *Scheduler) SetInterval(hours int) error {
	if hours < 1 || hours > maxRefreshInterval {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = time.Duration(hours) * time.Hour
	if s.running {
		s.disarm()
		s.arm(s.interval)
	}
	s.log.Info("refresh interval changed", zap.Int("hours", hours))
	return nil
}

// RunNow forces a refresh
func (s *Scheduler) RunNow(ctx context.Context) (*WarmReport, error) {
	start := s.clock.Now()
	rep, err := s.warmer.Warm(ctx, true)
	if err != nil && rep == nil {
		return nil, err
	}
	s.recordRefresh(ctx, start)
	return rep, err
}

// LastRefresh returns the last recorded refresh, false when none is known
func (s *Scheduler) LastRefresh(ctx context.Context) (RefreshInfo, bool) {
	var ri RefreshInfo

	data, ok := s.store.Peek(ctx, lastRefreshKey)
	if !ok {
		return ri, false
	}
	if err := json.Unmarshal(data, &ri); err != nil {
		s.log.Warn("unreadable refresh record", zap.Error(err))
		return ri, false
	}
	return ri, true
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{Running: s.running, IntervalHours: int(s.interval / time.Hour)}
	if s.running {
		next := s.nextRun
		st.NextRun = &next
	}
	return st
}

// arm and disarm must be called with mu held
func (s *Scheduler) arm(d time.Duration) {
	s.gen++
	gen := s.gen
	s.nextRun = s.clock.Now().Add(d)
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
}

func (s *Scheduler) disarm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextRun = time.Time{}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.arm(s.interval)
	ctx := s.ctx
	s.mu.Unlock()

	if _, err := s.RunNow(ctx); err != nil {
		s.log.Error("scheduled refresh failed", zap.Error(err))
	}
}

func (s *Scheduler) recordRefresh(ctx context.Context, start time.Time) {
	now := s.clock.Now()
	data, _ := json.Marshal(RefreshInfo{
		Timestamp:  now.UnixMilli(),
		DurationMs: now.Sub(start).Milliseconds(),
	})
	if !s.store.Set(ctx, lastRefreshKey, data, metadataTTL) {
		s.log.Debug("refresh record not written")
	}
}
