package serv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cheograph/cheograph/core"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	prewarmKey     = "cache_prewarmed"
	lastRefreshKey = "cache_last_refresh"

	// metadata outlives the entries it describes
	metadataTTL = 7 * 24 * time.Hour
)

// ErrWarmInProgress is returned when a warm run is already active
var ErrWarmInProgress = errors.New("cache warming already in progress")

type prewarmMeta struct {
	Completed  bool  `json:"completed"`
	Timestamp  int64 `json:"timestamp"`
	DurationMs int64 `json:"durationMs"`
}

// PhaseReport counts the outcome of one warming phase
type PhaseReport struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// WarmReport describes a warm run
type WarmReport struct {
	RunID     string        `json:"runId"`
	Skipped   bool          `json:"skipped"`
	Reason    string        `json:"reason,omitempty"`
	Phases    []PhaseReport `json:"phases"`
	Duration  time.Duration `json:"duration"`
	Completed bool          `json:"completed"`
}

// Warmer fills the cache with the list and detail queries users hit first
type Warmer struct {
	store   Store
	exec    Executor
	log     *zap.Logger
	conf    WarmingConfig
	ttl     TTLConfig
	clock   Clock
	running atomic.Bool

	otelDuration metric.Float64Histogram
}

func NewWarmer(store Store, exec Executor, log *zap.Logger,
	conf WarmingConfig, ttl TTLConfig, clock Clock,
) *Warmer {
	if clock == nil {
		clock = SystemClock()
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = defaultBatchSize
	}
	if conf.SceneBatchSize <= 0 {
		conf.SceneBatchSize = defaultSceneBatchSize
	}
	if conf.MaxAge <= 0 {
		conf.MaxAge = defaultMaxAge
	}

	w := &Warmer{store: store, exec: exec, log: log, conf: conf, ttl: ttl, clock: clock}
	w.otelDuration, _ = otel.Meter("cheograph/warm").Float64Histogram("cheograph.warm.duration",
		metric.WithDescription("Duration of cache warm runs"),
		metric.WithUnit("ms"))
	return w
}

// Running reports whether a warm run is active
func (w *Warmer) Running() bool {
	return w.running.Load()
}

// ShouldPreWarm reports whether the cache needs warming and why
func (w *Warmer) ShouldPreWarm(ctx context.Context) (bool, string) {
	data, ok := w.store.Peek(ctx, prewarmKey)
	if !ok {
		return true, "cache has never been warmed"
	}

	var m prewarmMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return true, "warm metadata is unreadable"
	}
	if !m.Completed {
		return true, "last warm run did not complete"
	}

	age := w.clock.Now().Sub(time.UnixMilli(m.Timestamp))
	if age > w.conf.MaxAge {
		return true, fmt.Sprintf("cache is %s old", age.Round(time.Minute))
	}

	for _, k := range core.ListKeys() {
		if !w.store.Has(ctx, k) {
			return true, fmt.Sprintf("%s is missing", k)
		}
	}

	w.log.Info("cache is fresh",
		zap.Duration("age", age.Round(time.Second)),
		zap.Duration("remaining", (w.conf.MaxAge - age).Round(time.Second)))
	return false, "cache is fresh"
}

// PreWarm warms the cache when ShouldPreWarm says so
func (w *Warmer) PreWarm(ctx context.Context) (*WarmReport, error) {
	return w.Warm(ctx, false)
}

// Warm runs the list phase and then the detail phase of each entity type.
// Unless force is set it does nothing when the cache is fresh.
func (w *Warmer) Warm(ctx context.Context, force bool) (*WarmReport, error) {
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrWarmInProgress
	}
	defer w.running.Store(false)

	rep := &WarmReport{RunID: xid.New().String(), Phases: []PhaseReport{}}
	log := w.log.With(zap.String("run_id", rep.RunID))

	if !force {
		warm, reason := w.ShouldPreWarm(ctx)
		rep.Reason = reason
		if !warm {
			rep.Skipped = true
			return rep, nil
		}
	} else {
		rep.Reason = "forced"
	}

	start := w.clock.Now()
	log.Info("cache warming started", zap.String("reason", rep.Reason))
	w.writeMeta(ctx, prewarmMeta{Timestamp: start.UnixMilli()})

	lists, listPhase := w.warmLists(ctx)
	rep.Phases = append(rep.Phases, listPhase)

	var err error
	for _, e := range core.Entities {
		if err = ctx.Err(); err != nil {
			break
		}
		rep.Phases = append(rep.Phases, w.warmDetails(ctx, log, e, lists[e]))
	}

	rep.Duration = w.clock.Now().Sub(start)
	rep.Completed = err == nil && listPhase.Failed == 0

	w.writeMeta(ctx, prewarmMeta{
		Completed:  rep.Completed,
		Timestamp:  w.clock.Now().UnixMilli(),
		DurationMs: rep.Duration.Milliseconds(),
	})
	if w.otelDuration != nil {
		w.otelDuration.Record(ctx, float64(rep.Duration.Milliseconds()),
			metric.WithAttributes(attribute.Bool("completed", rep.Completed)))
	}

	fields := []zap.Field{
		zap.Duration("duration", rep.Duration),
		zap.Bool("completed", rep.Completed),
	}
	for _, p := range rep.Phases {
		fields = append(fields, zap.String(p.Name, fmt.Sprintf("%d/%d", p.Succeeded, p.Total)))
	}
	log.Info("cache warming finished", fields...)

	if err != nil {
		return rep, fmt.Errorf("cache warming interrupted: %w", err)
	}
	return rep, nil
}

func (w *Warmer) writeMeta(ctx context.Context, m prewarmMeta) {
	data, _ := json.Marshal(m)
	if !w.store.Set(ctx, prewarmKey, data, metadataTTL) {
		w.log.Debug("warm metadata not written")
	}
}

// warmLists runs the four list queries together and writes them in one
// bulk set
func (w *Warmer) warmLists(ctx context.Context) (map[core.Entity]*core.Result, PhaseReport) {
	p := PhaseReport{Name: "list", Total: len(core.Entities)}
	results := make([]*core.Result, len(core.Entities))

	var g errgroup.Group
	for i, e := range core.Entities {
		i, e := i, e
		g.Go(func() error {
			results[i] = w.runEntity(ctx, func() (string, error) { return core.ListQuery(e) })
			return nil
		})
	}
	_ = g.Wait()

	lists := make(map[core.Entity]*core.Result, len(core.Entities))
	entries := make([]CacheEntry, 0, len(core.Entities))
	for i, e := range core.Entities {
		res := results[i]
		if res == nil {
			continue
		}
		data, err := json.Marshal(res)
		if err != nil {
			continue
		}
		lists[e] = res
		entries = append(entries, CacheEntry{Key: core.ListKey(e), Value: data, TTL: w.ttl.List})
	}

	if !w.store.SetMultiple(ctx, entries) {
		p.Failed = p.Total
		return lists, p
	}
	p.Succeeded = len(entries)
	p.Failed = p.Total - p.Succeeded
	return lists, p
}

// warmDetails runs the detail query of every entity in list, batch by batch
func (w *Warmer) warmDetails(ctx context.Context, log *zap.Logger,
	e core.Entity, list *core.Result,
) PhaseReport {
	p := PhaseReport{Name: string(e)}
	if list == nil {
		return p
	}

	column := "name"
	size := w.conf.BatchSize
	if e == core.Scenes {
		column = "scene"
		size = w.conf.SceneBatchSize
	}

	seen := make(map[string]bool)
	var ids []string
	for i := range list.Rows {
		id := strings.TrimSpace(list.String(i, column))
		if id == "" {
			p.Total++
			p.Failed++
			continue
		}
		key := core.InfoKey(e, id)
		if seen[key] {
			continue
		}
		seen[key] = true
		ids = append(ids, id)
	}
	p.Total += len(ids)

	var entries []CacheEntry
	for start := 0; start < len(ids); start += size {
		if ctx.Err() != nil {
			p.Failed += len(ids) - start
			break
		}
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		results := make([]*core.Result, len(batch))

		var g errgroup.Group
		for i, id := range batch {
			i, id := i, id
			g.Go(func() error {
				results[i] = w.runEntity(ctx, func() (string, error) { return core.InfoQuery(e, id) })
				return nil
			})
		}
		_ = g.Wait()

		for i, res := range results {
			if res == nil {
				p.Failed++
				log.Debug("entity not warmed", zap.String("type", e.Singular()), zap.String("id", batch[i]))
				continue
			}
			data, err := json.Marshal(res)
			if err != nil {
				p.Failed++
				continue
			}
			entries = append(entries, CacheEntry{Key: core.InfoKey(e, batch[i]), Value: data, TTL: w.ttl.Detail})
		}
	}

	if len(entries) == 0 {
		return p
	}
	if !w.store.SetMultiple(ctx, entries) {
		p.Failed += len(entries)
		return p
	}
	p.Succeeded = len(entries)
	return p
}

// runEntity builds and runs one query, returning nil on any failure
// including a panic in the executor
func (w *Warmer) runEntity(ctx context.Context, build func() (string, error)) (res *core.Result) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic while warming", zap.Any("panic", r))
			res = nil
		}
	}()

	q, err := build()
	if err != nil {
		w.log.Debug("cannot build warm query", zap.Error(err))
		return nil
	}
	res = w.exec.Execute(ctx, q)
	if !res.Answered() {
		return nil
	}
	return res
}
