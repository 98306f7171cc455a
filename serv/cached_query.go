package serv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cheograph/cheograph/core"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Executor runs a query and always returns a result
type Executor interface {
	Execute(ctx context.Context, query string) *core.Result
}

// CachedQuery puts a Store in front of an Executor
type CachedQuery struct {
	store Store
	exec  Executor
	log   *zap.Logger
	group singleflight.Group
}

func NewCachedQuery(store Store, exec Executor, log *zap.Logger) *CachedQuery {
	return &CachedQuery{store: store, exec: exec, log: log}
}

// RunCached answers from the cache when it can and otherwise executes the
// query and caches the answer. An empty key means a key derived from the
// query text. Results that no backend produced are returned but not cached.
func (cq *CachedQuery) RunCached(ctx context.Context, query, key string, ttl time.Duration) *core.Result {
	if key == "" {
		key = core.QueryKey(query)
	}

	if res, ok := cq.lookup(ctx, key); ok {
		return res
	}

	// callers that joined the flight still want the answer when the first
	// caller goes away
	ctx = context.WithoutCancel(ctx)
	v, _, _ := cq.group.Do(key, func() (interface{}, error) {
		res := cq.exec.Execute(ctx, query)
		if !res.Answered() {
			return res, nil
		}

		data, err := json.Marshal(res)
		if err != nil {
			cq.log.Warn("cannot encode result", zap.String("key", key), zap.Error(err))
			return res, nil
		}
		if !cq.store.Set(ctx, key, data, ttl) {
			cq.log.Debug("result not cached", zap.String("key", key))
		}
		return res, nil
	})
	return v.(*core.Result)
}

func (cq *CachedQuery) lookup(ctx context.Context, key string) (*core.Result, bool) {
	data, ok := cq.store.Get(ctx, key)
	if !ok {
		return nil, false
	}

	res, err := decodeResult(data)
	if err != nil {
		cq.log.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return res, true
}

func decodeResult(data []byte) (*core.Result, error) {
	var res core.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	if res.Vars == nil {
		res.Vars = []string{}
	}
	if res.Rows == nil {
		res.Rows = []core.Row{}
	}
	res.Source = core.SourceCache
	return &res, nil
}
