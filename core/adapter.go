package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend is a query engine the adapter can route to
type Backend interface {
	Name() Source
	Query(ctx context.Context, q string) (*Result, error)
}

// Adapter runs queries against its backends in order. It never fails: the
// first useful answer wins and an empty result stands in when none answer.
type Adapter struct {
	backends []Backend
	log      *zap.Logger
}

// NewAdapter returns an adapter trying backends in the given order, nil
// backends are skipped
func NewAdapter(log *zap.Logger, backends ...Backend) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{log: log}
	for _, b := range backends {
		if b != nil {
			a.backends = append(a.backends, b)
		}
	}
	return a
}

// Backends returns the configured backend names in routing order
func (a *Adapter) Backends() []Source {
	names := make([]Source, len(a.backends))
	for i, b := range a.backends {
		names[i] = b.Name()
	}
	return names
}

// Execute runs q. A backend that errors is skipped, and a backend that
// answers with no rows is skipped while another backend remains; that empty
// answer is returned if nothing later succeeds.
func (a *Adapter) Execute(ctx context.Context, q string) *Result {
	var fallback *Result

	for i, b := range a.backends {
		start := time.Now()
		res, err := a.try(ctx, b, q)
		if err != nil {
			a.log.Warn("query backend failed",
				zap.String("backend", string(b.Name())),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			continue
		}

		last := i == len(a.backends)-1
		if res.Empty() && !last {
			a.log.Debug("empty answer, trying next backend",
				zap.String("backend", string(b.Name())))
			if fallback == nil {
				fallback = res
			}
			continue
		}

		a.log.Debug("query answered",
			zap.String("backend", string(b.Name())),
			zap.Int("rows", len(res.Rows)),
			zap.Duration("elapsed", time.Since(start)))
		return res
	}

	if fallback != nil {
		return fallback
	}

	if len(a.backends) == 0 {
		a.log.Warn("no query backend configured")
	} else {
		a.log.Warn("no query backend answered")
	}
	return EmptyResult()
}

func (a *Adapter) try(ctx context.Context, b Backend, q string) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res, err = b.Query(ctx, q)
	if err == nil && res == nil {
		err = fmt.Errorf("no result")
	}
	return
}
