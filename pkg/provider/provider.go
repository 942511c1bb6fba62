// Package provider serves create, read, update and delete requests addressed
// by content identifiers. The router picks the entity kind and decides
// whether a request targets a collection or one row; the database does the
// work inside a transaction; the notifier learns about every committed
// change.
package provider

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/cupboard-tools/pkg/router"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// URI query parameters understood by Query.
const (
	ParamNotify   = "notify"
	ParamLimit    = "limit"
	ParamOffset   = "offset"
	ParamDistinct = "distinct"
	ParamGroupBy  = "groupBy"
	ParamHaving   = "having"
)

// MIME type prefixes returned by GetType.
const (
	dirTypePrefix  = "vnd.cupboard.dir/"
	itemTypePrefix = "vnd.cupboard.item/"
)

// ExistingIDFunc may set values[types.IDColumn] to the id of a row that
// already holds the entity, so that the insert replaces it. It runs on
// collection inserts only, inside the insert transaction.
type ExistingIDFunc func(c types.Compartment, kind types.EntityKind, values types.Values) error

// Option configures a Provider.
type Option func(*Provider)

// WithNotifier sets where committed changes are published.
func WithNotifier(n types.Notifier) Option {
	return func(p *Provider) { p.notifier = n }
}

// WithLogger sets the provider logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithExistingID installs the external-key resolver for collection inserts.
func WithExistingID(fn ExistingIDFunc) Option {
	return func(p *Provider) { p.existingID = fn }
}

// WithTransactionListener observes every write transaction.
func WithTransactionListener(l types.TransactionListener) Option {
	return func(p *Provider) { p.listener = l }
}

// WithSyncToNetwork sets the policy deciding the sync flag of the change
// published after a write to uri.
func WithSyncToNetwork(fn func(uri string) bool) Option {
	return func(p *Provider) { p.syncToNetwork = fn }
}

// Provider routes identifier-addressed requests to a database.
type Provider struct {
	db            types.Database
	router        *router.Router
	notifier      types.Notifier
	logger        *log.Logger
	existingID    ExistingIDFunc
	listener      types.TransactionListener
	syncToNetwork func(uri string) bool
	cache         *queryCache
}

// New returns a provider serving the kinds of r from db.
func New(db types.Database, r *router.Router, opts ...Option) *Provider {
	p := &Provider{
		db:            db,
		router:        r,
		logger:        log.New(io.Discard),
		syncToNetwork: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Router returns the provider's router.
func (p *Provider) Router() *router.Router { return p.router }

// classify matches uri or returns an error naming op that wraps both
// types.ErrUnknownURI and the router's types.ErrNoMatch.
func (p *Provider) classify(op, uri string) (router.Match, error) {
	m, err := p.router.Classify(uri)
	if err != nil {
		return router.Match{}, fmt.Errorf("unknown uri for %s: %w: %w", op, types.ErrUnknownURI, err)
	}
	return m, nil
}

// Insert stores values at uri. A collection uri returns uri with the new
// row's key appended; an item uri stores the row under the uri's key and
// returns uri unchanged.
func (p *Provider) Insert(ctx context.Context, uri string, values types.Values) (string, error) {
	m, err := p.classify("insert", uri)
	if err != nil {
		return "", err
	}

	var result string
	err = p.write(ctx, uri, func(c types.Compartment) (bool, error) {
		var err error
		result, err = p.insert(c, m, uri, values)
		return err == nil, err
	})
	if err != nil {
		return "", err
	}
	p.logger.Debug("insert", "uri", uri, "kind", m.Kind.Name, "result", result)
	return result, nil
}

func (p *Provider) insert(c types.Compartment, m router.Match, uri string, values types.Values) (string, error) {
	values = values.Clone()
	if m.Collection {
		if p.existingID != nil {
			if err := p.existingID(c, m.Kind, values); err != nil {
				return "", fmt.Errorf("resolving existing id: %w", err)
			}
		}
	} else {
		key, _ := router.KeyOf(uri)
		values[types.IDColumn] = key
	}

	id, err := c.Put(m.Kind, values)
	if err != nil {
		return "", err
	}
	if !m.Collection {
		return uri, nil
	}
	return router.WithAppendedKey(uri, id)
}

// BulkInsert stores every row at uri in one transaction and returns the
// number of rows stored.
func (p *Provider) BulkInsert(ctx context.Context, uri string, rows []types.Values) (int, error) {
	m, err := p.classify("insert", uri)
	if err != nil {
		return 0, err
	}

	n := 0
	err = p.write(ctx, uri, func(c types.Compartment) (bool, error) {
		for i, values := range rows {
			if _, err := p.insert(c, m, uri, values); err != nil {
				return false, fmt.Errorf("row %d: %w", i, err)
			}
			n++
		}
		return n > 0, nil
	})
	if err != nil {
		return 0, err
	}
	p.logger.Debug("bulk insert", "uri", uri, "kind", m.Kind.Name, "rows", n)
	return n, nil
}

// Update changes the rows at uri. A collection uri updates the rows matching
// sel; an item uri updates the row with the uri's key and ignores sel.
func (p *Provider) Update(ctx context.Context, uri string, values types.Values, sel types.Selection) (int64, error) {
	m, err := p.classify("update", uri)
	if err != nil {
		return 0, err
	}

	var n int64
	err = p.write(ctx, uri, func(c types.Compartment) (bool, error) {
		var err error
		n, err = p.update(c, m, uri, values, sel)
		return n > 0, err
	})
	if err != nil {
		return 0, err
	}
	p.logger.Debug("update", "uri", uri, "kind", m.Kind.Name, "rows", n)
	return n, nil
}

func (p *Provider) update(c types.Compartment, m router.Match, uri string, values types.Values, sel types.Selection) (int64, error) {
	if m.Collection {
		return c.Update(m.Kind, values, sel)
	}
	key, _ := router.KeyOf(uri)
	return c.UpdateByID(m.Kind, key, values)
}

// Delete removes the rows at uri. An item uri removes at most one row.
func (p *Provider) Delete(ctx context.Context, uri string, sel types.Selection) (int64, error) {
	m, err := p.classify("delete", uri)
	if err != nil {
		return 0, err
	}

	var n int64
	err = p.write(ctx, uri, func(c types.Compartment) (bool, error) {
		var err error
		n, err = p.delete(c, m, uri, sel)
		return n > 0, err
	})
	if err != nil {
		return 0, err
	}
	p.logger.Debug("delete", "uri", uri, "kind", m.Kind.Name, "rows", n)
	return n, nil
}

func (p *Provider) delete(c types.Compartment, m router.Match, uri string, sel types.Selection) (int64, error) {
	if m.Collection {
		return c.Delete(m.Kind, sel)
	}
	key, _ := router.KeyOf(uri)
	ok, err := c.DeleteByID(m.Kind, key)
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// Query reads the rows at uri. For collection uris the limit, offset,
// distinct, groupBy and having query parameters override args. An item uri
// reads the row with the uri's key using args.Projection only. Unless the
// uri carries notify=false, the cursor's notification uri is the kind's
// collection identifier.
func (p *Provider) Query(ctx context.Context, uri string, args types.QueryArgs) (*types.Cursor, error) {
	m, err := p.classify("query", uri)
	if err != nil {
		return nil, err
	}
	key := cacheKey(uri, args)
	if cur, ok := p.cache.get(key); ok {
		p.logger.Debug("query cache hit", "uri", uri, "kind", m.Kind.Name, "rows", cur.Count())
		return cur, nil
	}
	gen := p.cache.generation()

	var cur *types.Cursor
	if m.Collection {
		if args, err = withURIParameters(uri, args); err != nil {
			return nil, err
		}
		cur, err = p.db.Reader(ctx).Query(m.Kind, args)
	} else {
		key, _ := router.KeyOf(uri)
		cur, err = p.db.Reader(ctx).QueryByID(m.Kind, key, args.Projection)
	}
	if err != nil {
		return nil, err
	}

	if v, ok := router.QueryParameter(uri, ParamNotify); !ok || v != "false" {
		cur.NotificationURI, err = p.router.IdentifierFor(m.Kind.Name)
		if err != nil {
			return nil, err
		}
	}
	p.cache.put(key, gen, cur)
	p.logger.Debug("query", "uri", uri, "kind", m.Kind.Name, "rows", cur.Count())
	return cur, nil
}

// withURIParameters applies the query parameters of uri to args.
func withURIParameters(uri string, args types.QueryArgs) (types.QueryArgs, error) {
	if v, ok := router.QueryParameter(uri, ParamLimit); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return args, fmt.Errorf("%s=%q: %w", ParamLimit, v, types.ErrInvalidQuery)
		}
		args.Limit = n
	}
	if v, ok := router.QueryParameter(uri, ParamOffset); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return args, fmt.Errorf("%s=%q: %w", ParamOffset, v, types.ErrInvalidQuery)
		}
		args.Offset = n
	}
	if v, ok := router.QueryParameter(uri, ParamDistinct); ok && v == "true" {
		args.Distinct = true
	}
	if v, ok := router.QueryParameter(uri, ParamGroupBy); ok {
		args.GroupBy = v
	}
	if v, ok := router.QueryParameter(uri, ParamHaving); ok {
		args.Having = v
	}
	return args, nil
}

// GetType returns the MIME type of uri: vnd.cupboard.dir/<authority>.<path>
// for collections and vnd.cupboard.item/<authority>.<path> for items.
func (p *Provider) GetType(uri string) (string, error) {
	m, err := p.classify("type", uri)
	if err != nil {
		return "", err
	}
	prefix := itemTypePrefix
	if m.Collection {
		prefix = dirTypePrefix
	}
	return prefix + p.router.Authority() + "." + m.Kind.Path, nil
}

// write runs fn in a transaction and, when fn reports a change and the
// transaction commits, publishes one change of the base uri.
func (p *Provider) write(ctx context.Context, uri string, fn func(types.Compartment) (bool, error)) error {
	changed := false
	err := p.db.Transact(ctx, p.listener, func(c types.Compartment) error {
		var err error
		changed, err = fn(c)
		return err
	})
	if err != nil {
		return err
	}
	if changed {
		p.notifyChange(uri)
	}
	return nil
}

// notifyChange runs after every committed change.
func (p *Provider) notifyChange(uri string) {
	p.cache.flush()
	if p.notifier == nil {
		return
	}
	p.notifier.NotifyChange(p.router.BaseURI(), p.syncToNetwork(uri))
}
