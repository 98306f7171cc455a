package serv

import (
	"context"
	"testing"
	"time"

	"github.com/cheograph/cheograph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var schedulerStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

func newTestScheduler(t *testing.T) (*Scheduler, *scriptedExecutor, *fakeClock, *MemoryStore) {
	t.Helper()
	clock := newFakeClock(schedulerStart)
	store, err := NewMemoryStore(1000, time.Hour, clock)
	require.NoError(t, err)

	exec := newScriptedExecutor()
	for _, e := range core.Entities {
		exec.names(t, e, "x")
	}

	ttl := testTTL()
	ttl.List = 7 * 24 * time.Hour
	log := zaptest.NewLogger(t)
	w := NewWarmer(store, exec, log, testWarming(), ttl, clock)
	return NewScheduler(w, store, clock, log, testWarming()), exec, clock, store
}

func TestScheduler_FiresAtMidnightThenInterval(t *testing.T) {
	s, exec, clock, _ := newTestScheduler(t)

	s.Start()
	midnight := time.Date(2024, 5, 2, 0, 0, 0, 0, time.Local)
	assert.Equal(t, []time.Time{midnight}, clock.pending())

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 24, st.IntervalHours)
	require.NotNil(t, st.NextRun)
	assert.Equal(t, midnight, *st.NextRun)

	clock.Advance(13 * time.Hour)
	assert.Zero(t, exec.total())

	clock.Advance(time.Hour)
	assert.Equal(t, 8, exec.total())
	assert.Equal(t, []time.Time{midnight.Add(24 * time.Hour)}, clock.pending())

	ri, ok := s.LastRefresh(context.Background())
	require.True(t, ok)
	assert.Equal(t, midnight.UnixMilli(), ri.Timestamp)

	clock.Advance(24 * time.Hour)
	assert.Equal(t, 16, exec.total())
}

func TestScheduler_SetInterval(t *testing.T) {
	s, exec, clock, _ := newTestScheduler(t)
	s.Start()

	require.NoError(t, s.SetInterval(1))

	// re-armed for an hour from now, no immediate run
	assert.Zero(t, exec.total())
	assert.Equal(t, []time.Time{schedulerStart.Add(time.Hour)}, clock.pending())
	assert.Equal(t, 1, s.Status().IntervalHours)

	clock.Advance(time.Hour)
	assert.Equal(t, 8, exec.total())
	assert.Equal(t, []time.Time{schedulerStart.Add(2 * time.Hour)}, clock.pending())
}

func TestScheduler_SupersededTimerDoesNotRearm(t *testing.T) {
	s, exec, clock, _ := newTestScheduler(t)
	s.Start()

	// the midnight timer fires but loses the lock to SetInterval
	clock.mu.Lock()
	superseded := clock.timers[0].f
	clock.mu.Unlock()

	require.NoError(t, s.SetInterval(1))
	superseded()

	assert.Zero(t, exec.total())
	assert.Equal(t, []time.Time{schedulerStart.Add(time.Hour)}, clock.pending())

	s.Stop()
	assert.Empty(t, clock.pending())
}

func TestScheduler_SetIntervalInvalid(t *testing.T) {
	s, _, clock, _ := newTestScheduler(t)
	s.Start()
	before := clock.pending()

	for _, h := range []int{0, -3, 169} {
		assert.ErrorIs(t, s.SetInterval(h), ErrInvalidInterval, "hours %d", h)
	}
	assert.Equal(t, 24, s.Status().IntervalHours)
	assert.Equal(t, before, clock.pending())

	assert.NoError(t, s.SetInterval(168))
}

func TestScheduler_SetIntervalWhileStopped(t *testing.T) {
	s, _, clock, _ := newTestScheduler(t)

	require.NoError(t, s.SetInterval(6))
	assert.Empty(t, clock.pending())

	// the next start still anchors on midnight
	s.Start()
	assert.Equal(t, []time.Time{time.Date(2024, 5, 2, 0, 0, 0, 0, time.Local)}, clock.pending())
	assert.Equal(t, 6, s.Status().IntervalHours)
}

func TestScheduler_StartStop(t *testing.T) {
	s, exec, clock, _ := newTestScheduler(t)

	// stopping an idle scheduler is a no-op
	s.Stop()
	assert.False(t, s.Status().Running)

	s.Start()
	s.Start()
	assert.Len(t, clock.pending(), 1)

	s.Stop()
	st := s.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.NextRun)
	assert.Empty(t, clock.pending())

	clock.Advance(48 * time.Hour)
	assert.Zero(t, exec.total())
}

func TestScheduler_Init(t *testing.T) {
	ctx := context.Background()
	s, exec, clock, store := newTestScheduler(t)

	_, ok := s.LastRefresh(ctx)
	assert.False(t, ok)

	s.Init(ctx)
	assert.Equal(t, 8, exec.total())
	assert.True(t, s.Status().Running)
	assert.Len(t, clock.pending(), 1)

	ri, ok := s.LastRefresh(ctx)
	require.True(t, ok)
	assert.Equal(t, schedulerStart.UnixMilli(), ri.Timestamp)

	// a fresh cache is not warmed again and the record stays
	clock.Advance(time.Hour)
	s.Stop()
	s.Init(ctx)
	assert.Equal(t, 8, exec.total())
	ri, _ = s.LastRefresh(ctx)
	assert.Equal(t, schedulerStart.UnixMilli(), ri.Timestamp)

	// a cleared cache is warmed on the next start
	store.Clear(ctx)
	s.Stop()
	s.Init(ctx)
	assert.Equal(t, 16, exec.total())
}

func TestScheduler_RunNow(t *testing.T) {
	ctx := context.Background()
	s, exec, clock, _ := newTestScheduler(t)

	rep, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 8, exec.total())

	clock.Advance(time.Minute)
	_, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, exec.total())

	ri, ok := s.LastRefresh(ctx)
	require.True(t, ok)
	assert.Equal(t, schedulerStart.Add(time.Minute).UnixMilli(), ri.Timestamp)

	// manual refresh does not start the timers
	assert.False(t, s.Status().Running)
}
