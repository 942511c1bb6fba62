package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/cupboard-tools/pkg/notify"
	"github.com/mesh-intelligence/cupboard-tools/pkg/router"
	"github.com/mesh-intelligence/cupboard-tools/pkg/sqlite"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

const (
	base       = "content://test.authority"
	cheeseURI  = base + "/cheese"
	plateauURI = base + "/plateau"
)

var (
	cheeseKind = types.EntityKind{
		Name: "Cheese",
		Path: "cheese",
		Columns: []types.Column{
			{Name: "name", Type: types.ColumnText, Index: true},
			{Name: "age", Type: types.ColumnInteger},
		},
	}
	plateauKind = types.EntityKind{
		Name:    "Plateau",
		Path:    "plateau",
		Columns: []types.Column{{Name: "label", Type: types.ColumnText}},
	}
)

type fixture struct {
	p        *Provider
	db       *sqlite.Backend
	resolver *notify.Resolver
	changes  <-chan types.Change
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	kinds := []types.EntityKind{cheeseKind, plateauKind}

	db, err := sqlite.Open(ctx, types.Config{Backend: types.BackendSQLite, DataDir: types.MemoryDataDir},
		kinds, sqlite.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r, err := router.ForAuthority("test.authority", kinds)
	require.NoError(t, err)

	resolver := notify.New()
	t.Cleanup(resolver.Close)

	opts = append([]Option{WithNotifier(resolver)}, opts...)
	return &fixture{
		p:        New(db, r, opts...),
		db:       db,
		resolver: resolver,
		changes:  resolver.Subscribe(ctx, base),
	}
}

// drain returns the changes published so far. Publishing is synchronous, so
// everything sent before the call is already buffered.
func (f *fixture) drain() []types.Change {
	var out []types.Change
	for {
		select {
		case ch := <-f.changes:
			out = append(out, ch)
		default:
			return out
		}
	}
}

func (f *fixture) seed(t *testing.T, rows ...types.Values) {
	t.Helper()
	for _, v := range rows {
		_, err := f.p.Insert(context.Background(), cheeseURI, v)
		require.NoError(t, err)
	}
	f.drain()
}

func cheeseNames(t *testing.T, cur *types.Cursor) []string {
	t.Helper()
	var out []string
	for _, row := range cur.Records() {
		out = append(out, row["name"].(string))
	}
	return out
}

func TestInsert_Collection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.p.Insert(ctx, cheeseURI, types.Values{"name": "Brie"})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI+"/1", got)

	got, err = f.p.Insert(ctx, cheeseURI, types.Values{"name": "Comte"})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI+"/2", got)

	assert.Equal(t, []types.Change{{URI: base}, {URI: base}}, f.drain())
}

func TestInsert_Item(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.p.Insert(ctx, cheeseURI+"/7", types.Values{types.IDColumn: 3, "name": "Gouda"})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI+"/7", got)

	cur, err := f.p.Query(ctx, cheeseURI+"/7", types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gouda"}, cheeseNames(t, cur))

	cur, err = f.p.Query(ctx, cheeseURI+"/3", types.QueryArgs{})
	require.NoError(t, err)
	assert.Zero(t, cur.Count(), "the key in the uri wins over values")
}

func TestInsert_ExistingID(t *testing.T) {
	calls := 0
	byName := func(c types.Compartment, kind types.EntityKind, values types.Values) error {
		calls++
		cur, err := c.Query(kind, types.QueryArgs{
			Projection: []string{types.IDColumn},
			Selection:  types.Selection{Where: `"name" = ?`, Args: []any{values["name"]}},
		})
		if err != nil || cur.Count() == 0 {
			return err
		}
		id, err := cur.Value(0, types.IDColumn)
		if err != nil {
			return err
		}
		values[types.IDColumn] = id
		return nil
	}
	f := newFixture(t, WithExistingID(byName))
	ctx := context.Background()

	first, err := f.p.Insert(ctx, cheeseURI, types.Values{"name": "Brie", "age": 1})
	require.NoError(t, err)
	second, err := f.p.Insert(ctx, cheeseURI, types.Values{"name": "Brie", "age": 2})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = f.p.Insert(ctx, cheeseURI+"/9", types.Values{"name": "Brie"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "item inserts skip the existing id hook")

	cur, err := f.p.Query(ctx, cheeseURI, types.QueryArgs{OrderBy: "_id"})
	require.NoError(t, err)
	require.Equal(t, 2, cur.Count())
	age, _ := cur.Value(0, "age")
	assert.Equal(t, int64(2), age)
}

func TestInsert_ExistingIDError(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, WithExistingID(func(types.Compartment, types.EntityKind, types.Values) error { return boom }))

	_, err := f.p.Insert(context.Background(), cheeseURI, types.Values{"name": "Brie"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.drain())
}

func TestUnknownURI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uri := base + "/unknown"

	check := func(t *testing.T, op string, err error) {
		t.Helper()
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrUnknownURI)
		assert.ErrorIs(t, err, types.ErrNoMatch)
		assert.Contains(t, err.Error(), "unknown uri for "+op)
	}

	_, err := f.p.Insert(ctx, uri, types.Values{})
	check(t, "insert", err)
	_, err = f.p.BulkInsert(ctx, uri, []types.Values{{}})
	check(t, "insert", err)
	_, err = f.p.Update(ctx, uri, types.Values{}, types.Selection{})
	check(t, "update", err)
	_, err = f.p.Delete(ctx, uri, types.Selection{})
	check(t, "delete", err)
	_, err = f.p.Query(ctx, uri, types.QueryArgs{})
	check(t, "query", err)
	_, err = f.p.Query(ctx, "content://other.authority/cheese", types.QueryArgs{})
	check(t, "query", err)
	_, err = f.p.GetType(uri)
	check(t, "type", err)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, types.Values{"name": "Brie", "age": 1}, types.Values{"name": "Cheddar", "age": 12}, types.Values{"name": "Gouda", "age": 6})

	n, err := f.p.Update(ctx, cheeseURI, types.Values{"age": 0}, types.Selection{Where: `"age" > ?`, Args: []any{5}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, f.drain(), 1)

	n, err = f.p.Update(ctx, cheeseURI+"/1", types.Values{"name": "Brie de Meaux"}, types.Selection{Where: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, f.drain(), 1)

	n, err = f.p.Update(ctx, cheeseURI+"/99", types.Values{"name": "Nothing"}, types.Selection{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.drain(), "no change, no notification")

	cur, err := f.p.Query(ctx, cheeseURI+"/1", types.QueryArgs{Projection: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Brie de Meaux"}, cheeseNames(t, cur))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, types.Values{"name": "Brie"}, types.Values{"name": "Cheddar"}, types.Values{"name": "Gouda"})

	n, err := f.p.Delete(ctx, cheeseURI+"/2", types.Selection{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.p.Delete(ctx, cheeseURI+"/2", types.Selection{})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.p.Delete(ctx, cheeseURI, types.Selection{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Len(t, f.drain(), 2)
}

func TestQuery_Parameters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t,
		types.Values{"name": "Brie", "age": 1},
		types.Values{"name": "Cheddar", "age": 12},
		types.Values{"name": "Gouda", "age": 6},
		types.Values{"name": "Cheddar", "age": 24},
	)

	tests := []struct {
		name string
		uri  string
		args types.QueryArgs
		want []string
	}{
		{"plain", cheeseURI, types.QueryArgs{OrderBy: "_id"}, []string{"Brie", "Cheddar", "Gouda", "Cheddar"}},
		{"limit", cheeseURI + "?limit=2", types.QueryArgs{OrderBy: "_id"}, []string{"Brie", "Cheddar"}},
		{"limit overrides args", cheeseURI + "?limit=1", types.QueryArgs{OrderBy: "_id", Limit: 3}, []string{"Brie"}},
		{"offset", cheeseURI + "?limit=2&offset=2", types.QueryArgs{OrderBy: "_id"}, []string{"Gouda", "Cheddar"}},
		{"distinct", cheeseURI + "?distinct=true", types.QueryArgs{Projection: []string{"name"}, OrderBy: "name"}, []string{"Brie", "Cheddar", "Gouda"}},
		{"distinct not true", cheeseURI + "?distinct=yes", types.QueryArgs{Projection: []string{"name"}, OrderBy: "name"}, []string{"Brie", "Cheddar", "Cheddar", "Gouda"}},
		{"group by having", cheeseURI + "?groupBy=name&having=COUNT(*)%3E1", types.QueryArgs{Projection: []string{"name"}}, []string{"Cheddar"}},
		{"selection", cheeseURI, types.QueryArgs{Selection: types.Selection{Where: `"age" < ?`, Args: []any{10}}, OrderBy: "age"}, []string{"Brie", "Gouda"}},
		{"item", cheeseURI + "/3", types.QueryArgs{}, []string{"Gouda"}},
		{"item ignores parameters", cheeseURI + "/3?limit=0&offset=5", types.QueryArgs{}, []string{"Gouda"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, err := f.p.Query(ctx, tt.uri, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cheeseNames(t, cur))
		})
	}

	for _, uri := range []string{cheeseURI + "?limit=many", cheeseURI + "?offset=x"} {
		_, err := f.p.Query(ctx, uri, types.QueryArgs{})
		assert.ErrorIs(t, err, types.ErrInvalidQuery, uri)
	}
}

func TestQuery_NotificationURI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, types.Values{"name": "Brie"})

	cur, err := f.p.Query(ctx, cheeseURI+"/1", types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI, cur.NotificationURI)

	cur, err = f.p.Query(ctx, cheeseURI+"?limit=5", types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI, cur.NotificationURI)

	cur, err = f.p.Query(ctx, cheeseURI+"?notify=false", types.QueryArgs{})
	require.NoError(t, err)
	assert.Empty(t, cur.NotificationURI)
}

func TestBulkInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.p.BulkInsert(ctx, plateauURI, []types.Values{{"label": "wood"}, {"label": "slate"}, {"label": "marble"}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, f.drain(), 1, "one notification per bulk insert")

	_, err = f.p.BulkInsert(ctx, plateauURI, []types.Values{{"label": "glass"}, {"shape": "round"}})
	assert.ErrorIs(t, err, types.ErrInvalidValues)
	assert.Empty(t, f.drain())

	cur, err := f.p.Query(ctx, plateauURI, types.QueryArgs{})
	require.NoError(t, err)
	assert.Equal(t, 3, cur.Count(), "failed bulk insert rolls back")

	n, err = f.p.BulkInsert(ctx, plateauURI, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.drain())
}

func TestGetType(t *testing.T) {
	f := newFixture(t)

	got, err := f.p.GetType(cheeseURI)
	require.NoError(t, err)
	assert.Equal(t, "vnd.cupboard.dir/test.authority.cheese", got)

	got, err = f.p.GetType(plateauURI + "/4")
	require.NoError(t, err)
	assert.Equal(t, "vnd.cupboard.item/test.authority.plateau", got)
}

type recordingListener struct{ events []string }

func (l *recordingListener) OnBegin()    { l.events = append(l.events, "begin") }
func (l *recordingListener) OnCommit()   { l.events = append(l.events, "commit") }
func (l *recordingListener) OnRollback() { l.events = append(l.events, "rollback") }

func TestTransactionListenerAndSync(t *testing.T) {
	l := &recordingListener{}
	f := newFixture(t,
		WithTransactionListener(l),
		WithSyncToNetwork(func(uri string) bool { return uri == plateauURI }),
	)
	ctx := context.Background()

	_, err := f.p.Insert(ctx, plateauURI, types.Values{"label": "wood"})
	require.NoError(t, err)
	_, err = f.p.Insert(ctx, cheeseURI, types.Values{"name": "Brie"})
	require.NoError(t, err)
	_, err = f.p.Insert(ctx, cheeseURI, types.Values{"colour": "blue"})
	require.Error(t, err)

	assert.Equal(t, []string{"begin", "commit", "begin", "commit", "begin", "rollback"}, l.events)
	assert.Equal(t, []types.Change{{URI: base, SyncToNetwork: true}, {URI: base}}, f.drain())
}

func TestNotifyBasePath(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, types.Config{Backend: types.BackendSQLite, DataDir: types.MemoryDataDir},
		[]types.EntityKind{cheeseKind}, sqlite.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	defer db.Close()

	r, err := router.ForAuthorityPath("test.authority", "data", []types.EntityKind{cheeseKind})
	require.NoError(t, err)

	resolver := notify.New()
	defer resolver.Close()
	sub := resolver.Watch(ctx, base+"/data")

	p := New(db, r, WithNotifier(resolver))
	got, err := p.Insert(ctx, cheeseURI, types.Values{"name": "Brie"})
	require.NoError(t, err)
	assert.Equal(t, cheeseURI+"/1", got, "base path does not affect routing")

	select {
	case ch := <-sub.C:
		assert.Equal(t, base+"/data", ch.URI)
	default:
		t.Fatal("expected a change on the base uri")
	}
}

func TestProviderWithoutNotifier(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, types.Config{Backend: types.BackendSQLite, DataDir: types.MemoryDataDir},
		[]types.EntityKind{cheeseKind}, sqlite.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	defer db.Close()
	r, err := router.ForAuthority("test.authority", []types.EntityKind{cheeseKind})
	require.NoError(t, err)

	p := New(db, r)
	_, err = p.Insert(ctx, cheeseURI, types.Values{"name": "Brie"})
	assert.NoError(t, err)
	assert.Same(t, r, p.Router())
}
