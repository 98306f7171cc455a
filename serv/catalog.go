package serv

import (
	"context"

	"github.com/cheograph/cheograph/core"
)

// Catalog answers the browse and lookup questions of the knowledge base
// through the query cache
type Catalog struct {
	cq  *CachedQuery
	ttl TTLConfig
}

func NewCatalog(cq *CachedQuery, ttl TTLConfig) *Catalog {
	return &Catalog{cq: cq, ttl: ttl}
}

// List returns every entity of a type
func (c *Catalog) List(ctx context.Context, e core.Entity) (*core.Result, error) {
	q, err := core.ListQuery(e)
	if err != nil {
		return nil, err
	}
	return c.cq.RunCached(ctx, q, core.ListKey(e), c.ttl.List), nil
}

// Info returns the details of one entity, scenes are identified by URI
func (c *Catalog) Info(ctx context.Context, e core.Entity, id string) (*core.Result, error) {
	q, err := core.InfoQuery(e, id)
	if err != nil {
		return nil, err
	}
	return c.cq.RunCached(ctx, q, core.InfoKey(e, id), c.ttl.Detail), nil
}

// Search returns entities whose name contains text
func (c *Catalog) Search(ctx context.Context, e core.Entity, text string) (*core.Result, error) {
	q, err := core.SearchQuery(e, text)
	if err != nil {
		return nil, err
	}
	return c.cq.RunCached(ctx, q, core.SearchKey(e, text), c.ttl.Search), nil
}

// Query runs an ad hoc query through the cache
func (c *Catalog) Query(ctx context.Context, query, key string) *core.Result {
	return c.cq.RunCached(ctx, query, key, c.ttl.Default)
}
