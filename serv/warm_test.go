package serv

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cheograph/cheograph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func phase(rep *WarmReport, name string) PhaseReport {
	for _, p := range rep.Phases {
		if p.Name == name {
			return p
		}
	}
	return PhaseReport{}
}

func readMeta(t *testing.T, store Store) prewarmMeta {
	t.Helper()
	data, ok := store.Get(context.Background(), prewarmKey)
	require.True(t, ok, "warm metadata missing")
	var m prewarmMeta
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWarm_ColdStart(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(t, 1000)

	local := core.NewLocalEngine(fixtureFs(t), fixtureOntology)
	adapter := core.NewAdapter(zaptest.NewLogger(t), local)
	w := NewWarmer(store, adapter, zaptest.NewLogger(t), testWarming(), testTTL(), clock)

	warm, reason := w.ShouldPreWarm(ctx)
	assert.True(t, warm)
	assert.Equal(t, "cache has never been warmed", reason)

	rep, err := w.PreWarm(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.True(t, rep.Completed)
	assert.NotEmpty(t, rep.RunID)

	assert.Equal(t, PhaseReport{Name: "list", Total: 4, Succeeded: 4}, phase(rep, "list"))
	assert.Equal(t, PhaseReport{Name: "characters", Total: 5, Succeeded: 5}, phase(rep, "characters"))
	assert.Equal(t, PhaseReport{Name: "plays", Total: 3, Succeeded: 3}, phase(rep, "plays"))
	assert.Equal(t, PhaseReport{Name: "actors", Total: 3, Succeeded: 3}, phase(rep, "actors"))
	assert.Equal(t, PhaseReport{Name: "scenes", Total: 2, Succeeded: 2}, phase(rep, "scenes"))

	// phases ran in order
	names := make([]string, len(rep.Phases))
	for i, p := range rep.Phases {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"list", "characters", "plays", "actors", "scenes"}, names)

	for _, k := range core.ListKeys() {
		assert.True(t, store.Has(ctx, k), k)
	}
	assert.True(t, store.Has(ctx, core.InfoKey(core.Characters, "Thị Mầu")))
	assert.True(t, store.Has(ctx, core.InfoKey(core.Scenes, "http://cheo.vn/ontology#XuyVanGiaDai")))
	assert.Len(t, store.Keys(ctx, "*_info_*"), 13)

	m := readMeta(t, store)
	assert.True(t, m.Completed)
	assert.Equal(t, clock.Now().UnixMilli(), m.Timestamp)

	warm, _ = w.ShouldPreWarm(ctx)
	assert.False(t, warm)
}

func TestWarm_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(t, 1000)

	exec := newScriptedExecutor()
	exec.names(t, core.Characters, "Thị Kính", "Thị Mầu")
	exec.names(t, core.Plays, "Kim Nham")
	exec.names(t, core.Actors, "Lê Thị Cúc")
	exec.names(t, core.Scenes, "http://cheo.vn/ontology#ThiMauLenChua")

	w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)

	rep, err := w.PreWarm(ctx)
	require.NoError(t, err)
	require.True(t, rep.Completed)
	calls := exec.total()
	assert.Equal(t, 9, calls)

	rep, err = w.PreWarm(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, "cache is fresh", rep.Reason)
	assert.Equal(t, calls, exec.total())

	// forcing runs regardless
	rep, err = w.Warm(ctx, true)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 2*calls, exec.total())
}

func TestWarm_PartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(t, 1000)

	exec := newScriptedExecutor()
	exec.names(t, core.Characters, "c1", "c2", "c3", "c4", "c5")
	exec.names(t, core.Plays)
	exec.names(t, core.Actors)
	exec.names(t, core.Scenes)
	exec.panicOn(t, core.Characters, "c3")

	w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)
	rep, err := w.PreWarm(ctx)
	require.NoError(t, err)

	assert.Equal(t, PhaseReport{Name: "characters", Total: 5, Succeeded: 4, Failed: 1}, phase(rep, "characters"))
	for _, id := range []string{"c1", "c2", "c4", "c5"} {
		assert.True(t, store.Has(ctx, core.InfoKey(core.Characters, id)), id)
	}
	assert.False(t, store.Has(ctx, core.InfoKey(core.Characters, "c3")))

	// detail failures do not make the run incomplete
	assert.True(t, rep.Completed)
	assert.True(t, readMeta(t, store).Completed)
}

func TestWarm_ListFailureLeavesIncomplete(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(t, 1000)

	exec := newScriptedExecutor()
	exec.names(t, core.Characters, "c1")
	exec.names(t, core.Plays, "p1")
	exec.names(t, core.Actors, "a1")
	// no scenes list answer

	w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)
	rep, err := w.PreWarm(ctx)
	require.NoError(t, err)

	assert.Equal(t, PhaseReport{Name: "list", Total: 4, Succeeded: 3, Failed: 1}, phase(rep, "list"))
	assert.False(t, rep.Completed)
	assert.False(t, readMeta(t, store).Completed)

	warm, reason := w.ShouldPreWarm(ctx)
	assert.True(t, warm)
	assert.Equal(t, "last warm run did not complete", reason)
}

func TestWarm_BlankAndDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(t, 1000)

	exec := newScriptedExecutor()
	exec.names(t, core.Characters, "Thị Kính", "thị  kính", "", "Xúy Vân")
	exec.names(t, core.Plays)
	exec.names(t, core.Actors)
	exec.names(t, core.Scenes)

	w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)
	rep, err := w.PreWarm(ctx)
	require.NoError(t, err)

	assert.Equal(t, PhaseReport{Name: "characters", Total: 3, Succeeded: 2, Failed: 1}, phase(rep, "characters"))
}

func TestShouldPreWarm_Staleness(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Warmer, *MemoryStore, *fakeClock) {
		store, clock := newTestMemoryStore(t, 1000)
		exec := newScriptedExecutor()
		for _, e := range core.Entities {
			exec.names(t, e, "x")
		}
		ttl := testTTL()
		ttl.List = 72 * time.Hour
		w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), ttl, clock)
		_, err := w.PreWarm(ctx)
		require.NoError(t, err)
		return w, store, clock
	}

	t.Run("too old", func(t *testing.T) {
		w, _, clock := setup(t)
		clock.Advance(24 * time.Hour)
		warm, _ := w.ShouldPreWarm(ctx)
		assert.False(t, warm)

		clock.Advance(time.Minute)
		warm, reason := w.ShouldPreWarm(ctx)
		assert.True(t, warm)
		assert.Contains(t, reason, "old")
	})

	t.Run("list key missing", func(t *testing.T) {
		w, store, _ := setup(t)
		store.Delete(ctx, core.ListKey(core.Actors))
		warm, reason := w.ShouldPreWarm(ctx)
		assert.True(t, warm)
		assert.Equal(t, "list_actors is missing", reason)
	})

	t.Run("unreadable metadata", func(t *testing.T) {
		w, store, _ := setup(t)
		store.Set(ctx, prewarmKey, []byte("nope"), 0)
		warm, _ := w.ShouldPreWarm(ctx)
		assert.True(t, warm)
	})
}

// concurrencyExecutor tracks how many detail queries run at once
type concurrencyExecutor struct {
	*scriptedExecutor
	lists    map[string]bool
	inFlight atomic.Int32
	mu       sync.Mutex
	max      int32
}

func (c *concurrencyExecutor) Execute(ctx context.Context, q string) *core.Result {
	if c.lists[q] {
		return c.scriptedExecutor.Execute(ctx, q)
	}
	n := c.inFlight.Add(1)
	c.mu.Lock()
	if n > c.max {
		c.max = n
	}
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	defer c.inFlight.Add(-1)
	return c.scriptedExecutor.Execute(ctx, q)
}

func TestWarm_BatchSizes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		ent  core.Entity
		size int
	}{
		{"characters in fives", core.Characters, 5},
		{"scenes in threes", core.Scenes, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, clock := newTestMemoryStore(t, 1000)

			exec := &concurrencyExecutor{scriptedExecutor: newScriptedExecutor(), lists: map[string]bool{}}
			for _, e := range core.Entities {
				if e == tt.ent {
					ids := []string{}
					for i := 0; i < 12; i++ {
						id := string(rune('a' + i))
						if e == core.Scenes {
							id = "http://cheo.vn/ontology#S" + id
						}
						ids = append(ids, id)
					}
					exec.names(t, e, ids...)
				} else {
					exec.names(t, e)
				}
				q, _ := core.ListQuery(e)
				exec.lists[q] = true
			}

			w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)
			rep, err := w.PreWarm(ctx)
			require.NoError(t, err)

			assert.Equal(t, 12, phase(rep, string(tt.ent)).Succeeded)
			assert.LessOrEqual(t, exec.max, int32(tt.size))
		})
	}
}

func TestWarm_InProgress(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore(t, 1000)

	exec := &blockingExecutor{release: make(chan struct{})}
	w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Warm(ctx, true) //nolint:errcheck
	}()

	require.Eventually(t, w.Running, time.Second, 5*time.Millisecond)
	_, err := w.Warm(ctx, true)
	assert.ErrorIs(t, err, ErrWarmInProgress)

	close(exec.release)
	<-done
	assert.False(t, w.Running())
}

func TestWarm_Canceled(t *testing.T) {
	store, clock := newTestMemoryStore(t, 1000)
	exec := newScriptedExecutor()
	for _, e := range core.Entities {
		exec.names(t, e, "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWarmer(store, exec, zaptest.NewLogger(t), testWarming(), testTTL(), clock)
	rep, err := w.Warm(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.False(t, rep.Completed)
	assert.False(t, readMeta(t, store).Completed)
}
