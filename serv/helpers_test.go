package serv

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cheograph/cheograph/core"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const fixtureOntology = "/data/cheo.nt"

// fixtureFs copies the shared ontology fixture into a memory filesystem
func fixtureFs(t *testing.T) afero.Fs {
	t.Helper()
	data, err := afero.ReadFile(afero.NewOsFs(), "../core/testdata/cheo.nt")
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, fixtureOntology, data, 0o644))
	return fs
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs the timers that came due, in order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// pending returns the fire times of timers that are still armed
func (c *fakeClock) pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Time
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at)
		}
	}
	return out
}

// scriptedExecutor answers known queries and reports the rest as unanswered
type scriptedExecutor struct {
	mu      sync.Mutex
	answers map[string]*core.Result
	panics  map[string]bool
	calls   map[string]int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		answers: map[string]*core.Result{},
		panics:  map[string]bool{},
		calls:   map[string]int{},
	}
}

func (e *scriptedExecutor) Execute(_ context.Context, q string) *core.Result {
	e.mu.Lock()
	e.calls[q]++
	res, ok := e.answers[q]
	boom := e.panics[q]
	e.mu.Unlock()

	if boom {
		panic("executor exploded")
	}
	if !ok {
		return core.EmptyResult()
	}
	return res
}

func (e *scriptedExecutor) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		n += c
	}
	return n
}

// names scripts a list query for e returning one row per id, and a detail
// answer for each id
func (e *scriptedExecutor) names(t *testing.T, ent core.Entity, ids ...string) {
	t.Helper()
	column, kind := "name", core.Literal
	if ent == core.Scenes {
		column, kind = "scene", core.Resource
	}

	list := &core.Result{Vars: []string{column}, Rows: []core.Row{}, Source: core.SourceLocal}
	for _, id := range ids {
		list.Rows = append(list.Rows, core.Row{column: {Kind: kind, Value: id}})
		if id == "" {
			continue
		}

		q, err := core.InfoQuery(ent, id)
		require.NoError(t, err)
		e.answers[q] = &core.Result{
			Vars:   []string{column},
			Rows:   []core.Row{{column: {Kind: kind, Value: id}}},
			Source: core.SourceLocal,
		}
	}

	q, err := core.ListQuery(ent)
	require.NoError(t, err)
	e.answers[q] = list
}

func (e *scriptedExecutor) panicOn(t *testing.T, ent core.Entity, id string) {
	t.Helper()
	q, err := core.InfoQuery(ent, id)
	require.NoError(t, err)
	e.panics[q] = true
}

func testTTL() TTLConfig {
	return TTLConfig{
		Default: defaultCacheTTL,
		List:    defaultListTTL,
		Detail:  defaultDetailTTL,
		Search:  defaultSearchTTL,
	}
}

func testWarming() WarmingConfig {
	return WarmingConfig{
		MaxAge:          defaultMaxAge,
		BatchSize:       defaultBatchSize,
		SceneBatchSize:  defaultSceneBatchSize,
		AutoRefresh:     true,
		RefreshInterval: defaultRefreshInterval,
	}
}
