package provider

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// WithQueryCache keeps query results for up to ttl. Every write committed
// through the provider empties the cache; writes made to the database by
// other means are only seen once entries expire. A non-positive ttl leaves
// caching off.
func WithQueryCache(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.cache = newQueryCache(ttl)
		}
	}
}

// queryCache maps a query to its cursor. A nil *queryCache caches nothing.
// gen counts flushes; a result read before a flush is never stored after it.
type queryCache struct {
	c   *gocache.Cache
	mu  sync.Mutex
	gen uint64
}

func newQueryCache(ttl time.Duration) *queryCache {
	return &queryCache{c: gocache.New(ttl, 2*ttl)}
}

func cacheKey(uri string, args types.QueryArgs) string {
	return fmt.Sprintf("%s\x00%q\x00%q\x00%#v\x00%q\x00%d\x00%d\x00%t\x00%q\x00%q",
		uri, args.Projection, args.Selection.Where, args.Selection.Args, args.OrderBy,
		args.Limit, args.Offset, args.Distinct, args.GroupBy, args.Having)
}

// get returns a copy of the cached cursor header; rows are shared and must
// not be modified.
func (q *queryCache) get(key string) (*types.Cursor, bool) {
	if q == nil {
		return nil, false
	}
	v, ok := q.c.Get(key)
	if !ok {
		return nil, false
	}
	cur, ok := v.(*types.Cursor)
	if !ok {
		return nil, false
	}
	cp := *cur
	return &cp, true
}

// generation returns the flush count to pass to put.
func (q *queryCache) generation() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// put stores cur unless the cache was flushed since gen was taken.
func (q *queryCache) put(key string, gen uint64, cur *types.Cursor) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gen != gen {
		return false
	}
	cp := *cur
	q.c.SetDefault(key, &cp)
	return true
}

func (q *queryCache) flush() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	q.c.Flush()
}

func (q *queryCache) len() int {
	if q == nil {
		return 0
	}
	return q.c.ItemCount()
}
