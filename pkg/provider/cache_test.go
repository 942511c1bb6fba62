package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

func TestQueryCache(t *testing.T) {
	f := newFixture(t, WithQueryCache(time.Minute))
	ctx := context.Background()
	f.seed(t, types.Values{"name": "Brie", "age": 1})

	cur, err := f.p.Query(ctx, cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Count())
	assert.Equal(t, 1, f.p.cache.len())

	// A write that bypasses the provider is not seen until the cache empties.
	err = f.db.Transact(ctx, nil, func(c types.Compartment) error {
		_, err := c.Put(cheeseKind, types.Values{"name": "Comte"})
		return err
	})
	require.NoError(t, err)
	cur, err = f.p.Query(ctx, cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Count())

	// Different arguments are a different entry.
	cur, err = f.p.Query(ctx, cheeseURI, types.QueryArgs{OrderBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Brie", "Comte"}, cheeseNames(t, cur))
	assert.Equal(t, 2, f.p.cache.len())

	// A provider write flushes everything.
	_, err = f.p.Insert(ctx, cheeseURI, types.Values{"name": "Gouda"})
	require.NoError(t, err)
	assert.Zero(t, f.p.cache.len())
	cur, err = f.p.Query(ctx, cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, 3, cur.Count())
}

// gatedDB holds the first collection read, after its rows are read, until
// release is closed.
type gatedDB struct {
	types.Database
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedDB) Reader(ctx context.Context) types.Compartment {
	return &gatedReader{Compartment: g.Database.Reader(ctx), db: g}
}

type gatedReader struct {
	types.Compartment
	db *gatedDB
}

func (r *gatedReader) Query(kind types.EntityKind, args types.QueryArgs) (*types.Cursor, error) {
	cur, err := r.Compartment.Query(kind, args)
	r.db.once.Do(func() {
		close(r.db.read)
		<-r.db.release
	})
	return cur, err
}

func TestQueryCache_ReadOverlappingWrite(t *testing.T) {
	f := newFixture(t)
	db := &gatedDB{Database: f.db, read: make(chan struct{}), release: make(chan struct{})}
	p := New(db, f.p.Router(), WithQueryCache(time.Minute))
	ctx := context.Background()

	before := make(chan int, 1)
	go func() {
		cur, err := p.Query(ctx, cheeseURI, types.QueryArgs{})
		if err != nil {
			before <- -1
			return
		}
		before <- cur.Count()
	}()

	<-db.read
	_, err := p.Insert(ctx, cheeseURI, types.Values{"name": "Brie"})
	require.NoError(t, err)
	close(db.release)
	assert.Equal(t, 0, <-before, "the overlapping read saw the table before the insert")

	// The result read before the commit was not cached.
	assert.Zero(t, p.cache.len())
	cur, err := p.Query(ctx, cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Count())
	assert.Equal(t, 1, p.cache.len())
}

func TestQueryCache_PutAfterFlush(t *testing.T) {
	q := newQueryCache(time.Minute)
	gen := q.generation()
	q.flush()
	assert.False(t, q.put("k", gen, &types.Cursor{}))
	assert.True(t, q.put("k", q.generation(), &types.Cursor{}))
	assert.Equal(t, 1, q.len())

	var off *queryCache
	assert.False(t, off.put("k", 0, &types.Cursor{}))
}

func TestQueryCache_ReturnsCopies(t *testing.T) {
	f := newFixture(t, WithQueryCache(time.Minute))
	ctx := context.Background()
	f.seed(t, types.Values{"name": "Brie"})

	first, err := f.p.Query(ctx, cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	first.NotificationURI = "content://elsewhere/x"

	second, err := f.p.Query(ctx, cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI, second.NotificationURI)
}

func TestQueryCache_Disabled(t *testing.T) {
	f := newFixture(t, WithQueryCache(0))
	assert.Nil(t, f.p.cache)

	_, err := f.p.Query(context.Background(), cheeseURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Zero(t, f.p.cache.len())
}

func TestCacheKey(t *testing.T) {
	a := cacheKey(cheeseURI, types.QueryArgs{Selection: types.Selection{Where: "age > ?", Args: []any{1}}})
	b := cacheKey(cheeseURI, types.QueryArgs{Selection: types.Selection{Where: "age > ?", Args: []any{2}}})
	c := cacheKey(cheeseURI+"?limit=1", types.QueryArgs{Selection: types.Selection{Where: "age > ?", Args: []any{1}}})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, cacheKey(cheeseURI, types.QueryArgs{Selection: types.Selection{Where: "age > ?", Args: []any{1}}}))
}
