package serv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cheograph/cheograph/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rc, err := NewRedisStore(context.Background(), RedisOptions{
		Addr:       mr.Addr(),
		Prefix:     defaultKeyPrefix,
		DefaultTTL: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestRedisStore_BasicOperations(t *testing.T) {
	rc, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.True(t, rc.Set(ctx, "list_plays", []byte(`{"rows":[]}`), 0))

	// stored under the prefix with the default TTL
	assert.True(t, mr.Exists("cheo:cache:list_plays"))
	assert.Equal(t, time.Hour, mr.TTL("cheo:cache:list_plays"))

	v, ok := rc.Get(ctx, "list_plays")
	assert.True(t, ok)
	assert.Equal(t, `{"rows":[]}`, string(v))

	assert.True(t, rc.Has(ctx, "list_plays"))
	assert.False(t, rc.Has(ctx, "list_actors"))

	_, ok = rc.Get(ctx, "list_actors")
	assert.False(t, ok)

	assert.Equal(t, int64(1), rc.Delete(ctx, "list_plays", "list_actors"))
	assert.False(t, mr.Exists("cheo:cache:list_plays"))
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	rc, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.True(t, rc.Set(ctx, "search_plays_kim", []byte("x"), 30*time.Minute))

	mr.FastForward(29 * time.Minute)
	_, ok := rc.Get(ctx, "search_plays_kim")
	assert.True(t, ok)

	mr.FastForward(time.Minute)
	_, ok = rc.Get(ctx, "search_plays_kim")
	assert.False(t, ok)
}

func TestRedisStore_KeysAndClear(t *testing.T) {
	rc, mr := newTestRedisStore(t)
	ctx := context.Background()

	// a foreign key outside the prefix must survive Clear
	require.NoError(t, mr.Set("other:key", "x"))

	require.True(t, rc.SetMultiple(ctx, []CacheEntry{
		{Key: "list_plays", Value: []byte("1")},
		{Key: "list_actors", Value: []byte("2"), TTL: 12 * time.Hour},
		{Key: "actor_info_le_thi_cuc", Value: []byte("3")},
	}))
	assert.Equal(t, 12*time.Hour, mr.TTL("cheo:cache:list_actors"))

	assert.Equal(t, []string{"actor_info_le_thi_cuc", "list_actors", "list_plays"}, rc.Keys(ctx, ""))
	assert.Equal(t, []string{"list_actors", "list_plays"}, rc.Keys(ctx, "list_*"))

	got := rc.GetMultiple(ctx, []string{"list_plays", "missing", "list_actors"})
	assert.Equal(t, map[string][]byte{"list_plays": []byte("1"), "list_actors": []byte("2")}, got)

	st := rc.Stats(ctx)
	assert.Equal(t, 3, st.Keys)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.True(t, st.Connected)
	assert.Equal(t, "redis", st.Backend)

	assert.Equal(t, int64(3), rc.Clear(ctx))
	assert.Empty(t, rc.Keys(ctx, ""))
	assert.True(t, mr.Exists("other:key"))

	st = rc.Stats(ctx)
	assert.Zero(t, st.Hits)
	assert.Zero(t, st.Misses)
}

func TestRedisStore_HitRate(t *testing.T) {
	rc, _ := newTestRedisStore(t)
	ctx := context.Background()

	rc.Set(ctx, "a", []byte("1"), 0)
	for i := 0; i < 3; i++ {
		rc.Get(ctx, "a")
	}
	rc.Get(ctx, "b")
	rc.Get(ctx, "c")

	assert.Equal(t, 60.0, rc.Stats(ctx).HitRate)
}

func TestRedisStore_Disconnected(t *testing.T) {
	rc, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.True(t, rc.Set(ctx, "list_plays", []byte("1"), 0))
	mr.Close()

	_, ok := rc.Get(ctx, "list_plays")
	assert.False(t, ok)
	assert.False(t, rc.Connected())

	assert.False(t, rc.Set(ctx, "list_plays", []byte("2"), 0))
	assert.False(t, rc.Has(ctx, "list_plays"))
	assert.Zero(t, rc.Delete(ctx, "list_plays"))
	assert.Empty(t, rc.Keys(ctx, ""))
	assert.False(t, rc.SetMultiple(ctx, []CacheEntry{{Key: "a", Value: []byte("1")}}))
	assert.Empty(t, rc.GetMultiple(ctx, []string{"a"}))

	st := rc.Stats(ctx)
	assert.False(t, st.Connected)
	assert.Equal(t, int64(2), st.Misses)
	assert.GreaterOrEqual(t, rc.Metrics().Errors.Load(), int64(1))

	// the façade keeps answering without a cache
	exec := newScriptedExecutor()
	q := "SELECT ?s WHERE { ?s ?p ?o }"
	exec.answers[q] = &core.Result{Vars: []string{"s"}, Rows: []core.Row{{"s": {Kind: core.Resource, Value: "http://x"}}}, Source: core.SourceLocal}

	cq := NewCachedQuery(rc, exec, zaptest.NewLogger(t))
	res := cq.RunCached(ctx, q, "", 0)
	assert.Equal(t, core.SourceLocal, res.Source)
	assert.Len(t, res.Rows, 1)

	res = cq.RunCached(ctx, q, "", 0)
	assert.Len(t, res.Rows, 1)
	assert.Equal(t, 2, exec.total())
}

func TestRedisStore_Peek(t *testing.T) {
	rc, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.True(t, rc.Set(ctx, "cache_prewarmed", []byte("{}"), 0))
	v, ok := rc.Peek(ctx, "cache_prewarmed")
	assert.True(t, ok)
	assert.Equal(t, "{}", string(v))
	_, ok = rc.Peek(ctx, "cache_last_refresh")
	assert.False(t, ok)

	st := rc.Stats(ctx)
	assert.Zero(t, st.Hits)
	assert.Zero(t, st.Misses)
}

func TestRedisStore_CallerCancelKeepsAvailable(t *testing.T) {
	rc, _ := newTestRedisStore(t)
	ctx := context.Background()
	require.True(t, rc.Set(ctx, "list_plays", []byte("1"), 0))

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	_, ok := rc.Get(canceled, "list_plays")
	assert.False(t, ok)
	assert.False(t, rc.Set(canceled, "list_actors", []byte("1"), 0))
	assert.True(t, rc.Connected())

	v, ok := rc.Get(ctx, "list_plays")
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))
	assert.True(t, rc.Set(ctx, "list_actors", []byte("1"), 0))
}

func TestRedisStore_AdminCallsReconnect(t *testing.T) {
	rc, mr := newTestRedisStore(t)
	ctx := context.Background()
	require.True(t, rc.Set(ctx, "list_plays", []byte("1"), 0))

	mr.Close()
	_, ok := rc.Get(ctx, "list_plays")
	require.False(t, ok)
	require.False(t, rc.Connected())

	require.NoError(t, mr.Restart())

	// retry window elapsed
	rc.lastCheck.Store(0)
	assert.Zero(t, rc.Delete(ctx, "list_plays"))
	assert.True(t, rc.Connected())
	assert.Equal(t, int64(1), rc.Delete(ctx, "list_plays"))

	mr.Close()
	rc.Has(ctx, "list_plays")
	require.False(t, rc.Connected())
	require.NoError(t, mr.Restart())

	rc.lastCheck.Store(0)
	rc.Clear(ctx)
	assert.True(t, rc.Connected())
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisOptions{
		Addr:            addr,
		ConnectAttempts: 2,
		Timeout:         100 * time.Millisecond,
	})
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), RedisOptions{})
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), RedisOptions{URL: "http://not-redis"})
	assert.Error(t, err)
}
