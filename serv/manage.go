package serv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Response is the envelope returned by every management operation
type Response struct {
	Success bool        `json:"success"`
	Status  int         `json:"-"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

func success(msg string, data interface{}) Response {
	return Response{Success: true, Status: http.StatusOK, Message: msg, Data: data}
}

func failure(status int, msg string) Response {
	return Response{Success: false, Status: status, Message: msg}
}

// CacheManager exposes cache administration for the admin endpoints and the
// CLI. It never returns an error, failures are reported in the Response.
type CacheManager struct {
	store     Store
	warmer    *Warmer
	scheduler *Scheduler
}

func NewCacheManager(store Store, warmer *Warmer, scheduler *Scheduler) *CacheManager {
	return &CacheManager{store: store, warmer: warmer, scheduler: scheduler}
}

func (m *CacheManager) Stats(ctx context.Context) Response {
	return success("", m.store.Stats(ctx))
}

func (m *CacheManager) Keys(ctx context.Context, pattern string) Response {
	keys := m.store.Keys(ctx, pattern)
	return success(fmt.Sprintf("%d keys", len(keys)), keys)
}

// GetItem returns a cached value, decoded when it holds JSON
func (m *CacheManager) GetItem(ctx context.Context, key string) Response {
	if key == "" {
		return failure(http.StatusBadRequest, "key is required")
	}
	data, found := m.store.Get(ctx, key)
	if !found {
		return failure(http.StatusNotFound, fmt.Sprintf("key %s not found", key))
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return success("", string(data))
	}
	return success("", v)
}

func (m *CacheManager) DeleteItem(ctx context.Context, key string) Response {
	if key == "" {
		return failure(http.StatusBadRequest, "key is required")
	}
	if m.store.Delete(ctx, key) == 0 {
		return failure(http.StatusNotFound, fmt.Sprintf("key %s not found", key))
	}
	return success(fmt.Sprintf("key %s deleted", key), nil)
}

func (m *CacheManager) Clear(ctx context.Context) Response {
	n := m.store.Clear(ctx)
	return success(fmt.Sprintf("%d keys cleared", n), map[string]int64{"deleted": n})
}

// PreWarm warms the cache if it is stale
func (m *CacheManager) PreWarm(ctx context.Context) Response {
	return m.warmResponse(m.warmer.PreWarm(ctx))
}

// ManualRefresh forces a full refresh
func (m *CacheManager) ManualRefresh(ctx context.Context) Response {
	return m.warmResponse(m.scheduler.RunNow(ctx))
}

func (m *CacheManager) warmResponse(rep *WarmReport, err error) Response {
	switch {
	case errors.Is(err, ErrWarmInProgress):
		return failure(http.StatusConflict, err.Error())
	case err != nil:
		r := failure(http.StatusInternalServerError, err.Error())
		r.Data = rep
		return r
	case rep.Skipped:
		return success("cache warming skipped: "+rep.Reason, rep)
	case !rep.Completed:
		failed := 0
		for _, p := range rep.Phases {
			failed += p.Failed
		}
		r := failure(http.StatusBadGateway,
			fmt.Sprintf("cache warming incomplete: %d queries failed", failed))
		r.Data = rep
		return r
	}
	return success("cache warmed", rep)
}

func (m *CacheManager) StartAutoRefresh() Response {
	m.scheduler.Start()
	return success("auto refresh started", m.scheduler.Status())
}

func (m *CacheManager) StopAutoRefresh() Response {
	m.scheduler.Stop()
	return success("auto refresh stopped", m.scheduler.Status())
}

func (m *CacheManager) SetAutoRefreshInterval(hours int) Response {
	if err := m.scheduler.SetInterval(hours); err != nil {
		return failure(http.StatusBadRequest, err.Error())
	}
	return success(fmt.Sprintf("refresh interval set to %d hours", hours), m.scheduler.Status())
}

// LastRefreshInfo has nil data when no refresh was recorded
func (m *CacheManager) LastRefreshInfo(ctx context.Context) Response {
	ri, found := m.scheduler.LastRefresh(ctx)
	if !found {
		return success("no refresh recorded", nil)
	}
	return success("", ri)
}

func (m *CacheManager) Status() Response {
	return success("", m.scheduler.Status())
}
