// Package router maps registered entity kinds to content identifiers and
// classifies incoming identifiers as collection or item requests.
//
// Every kind owns two routes under the router's authority:
//
//	content://<authority>/<path>        collection of the kind
//	content://<authority>/<path>/<key>  single row by numeric key
//
// The route table is built once by New and never mutated, so a Router is safe
// for concurrent use without locking.
package router

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// Match is the outcome of classifying an identifier.
type Match struct {
	Kind       types.EntityKind
	Collection bool
}

// Route describes the two identifiers a kind answers to. Item uses # in place
// of the numeric key.
type Route struct {
	Kind       types.EntityKind
	Collection string
	Item       string
}

// Router is an immutable table of entity kinds and their resource paths.
type Router struct {
	base      string
	authority string
	kinds     []types.EntityKind
	byName    map[string]int
	byPath    map[string]int
}

// New builds a router for a content base URI such as
// content://example.provider or content://example.provider/prefix.
// The base URI's authority scopes matching; its path is only reported by
// BaseURI, which is the root used for change notifications.
//
// New fails with types.ErrInvalidAuthority when the scheme is not content or
// the authority is empty, with types.ErrInvalidKind for a malformed kind, and
// with types.ErrDuplicateKind when a kind name or path is registered twice.
func New(baseURI string, kinds []types.EntityKind) (*Router, error) {
	u, err := url.Parse(baseURI)
	if err != nil {
		return nil, fmt.Errorf("base uri %q: %v: %w", baseURI, err, types.ErrInvalidAuthority)
	}
	if u.Scheme != types.ContentScheme {
		return nil, fmt.Errorf("base uri %q: scheme should be %s://: %w", baseURI, types.ContentScheme, types.ErrInvalidAuthority)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base uri %q: empty authority: %w", baseURI, types.ErrInvalidAuthority)
	}

	r := &Router{
		base:      baseURI,
		authority: u.Host,
		kinds:     make([]types.EntityKind, 0, len(kinds)),
		byName:    make(map[string]int, len(kinds)),
		byPath:    make(map[string]int, len(kinds)),
	}
	for _, k := range kinds {
		if err := r.add(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ForAuthority builds a router rooted at content://<authority>.
func ForAuthority(authority string, kinds []types.EntityKind) (*Router, error) {
	return New(types.ContentScheme+"://"+authority, kinds)
}

// ForAuthorityPath builds a router whose base URI is
// content://<authority>/<path>. A missing leading slash is added.
func ForAuthorityPath(authority, path string, kinds []types.EntityKind) (*Router, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return New(types.ContentScheme+"://"+authority+path, kinds)
}

func (r *Router) add(k types.EntityKind) error {
	if err := k.Validate(); err != nil {
		return err
	}
	if _, ok := r.byName[k.Name]; ok {
		return fmt.Errorf("kind %q: %w", k.Name, types.ErrDuplicateKind)
	}
	if i, ok := r.byPath[k.Path]; ok {
		return fmt.Errorf("kind %q path %q already used by %q: %w", k.Name, k.Path, r.kinds[i].Name, types.ErrDuplicateKind)
	}
	k.Columns = slices.Clone(k.Columns)
	r.kinds = append(r.kinds, k)
	r.byName[k.Name] = len(r.kinds) - 1
	r.byPath[k.Path] = len(r.kinds) - 1
	return nil
}

// Authority returns the authority identifiers must carry to match.
func (r *Router) Authority() string { return r.authority }

// BaseURI returns the base identifier the router was built with.
func (r *Router) BaseURI() string { return r.base }

// Kinds returns the registered kinds in registration order.
func (r *Router) Kinds() []types.EntityKind {
	out := make([]types.EntityKind, len(r.kinds))
	for i, k := range r.kinds {
		k.Columns = slices.Clone(k.Columns)
		out[i] = k
	}
	return out
}

// Kind returns the registered kind with the given name.
func (r *Router) Kind(name string) (types.EntityKind, bool) {
	i, ok := r.byName[name]
	if !ok {
		return types.EntityKind{}, false
	}
	return r.kinds[i], true
}

// Routes lists the collection and item identifiers of every kind.
func (r *Router) Routes() []Route {
	routes := make([]Route, 0, len(r.kinds))
	for _, k := range r.kinds {
		coll := r.identifier(k)
		routes = append(routes, Route{Kind: k, Collection: coll, Item: coll + "/#"})
	}
	return routes
}

// Matches reports whether id addresses a collection or item of some
// registered kind. Query and fragment are ignored.
func (r *Router) Matches(id string) bool {
	_, ok := r.lookup(id)
	return ok
}

// Classify reports the kind id addresses and whether it is the collection
// identifier. It fails with types.ErrNoMatch when Matches would be false.
func (r *Router) Classify(id string) (Match, error) {
	m, ok := r.lookup(id)
	if !ok {
		return Match{}, fmt.Errorf("%q: %w", id, types.ErrNoMatch)
	}
	return m, nil
}

// IdentifierFor returns the collection identifier of the named kind.
func (r *Router) IdentifierFor(name string) (string, error) {
	i, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("kind %q: %w", name, types.ErrUnregisteredKind)
	}
	return r.identifier(r.kinds[i]), nil
}

func (r *Router) identifier(k types.EntityKind) string {
	return types.ContentScheme + "://" + r.authority + "/" + k.Path
}

func (r *Router) lookup(id string) (Match, bool) {
	u, err := url.Parse(id)
	if err != nil || u.Host != r.authority {
		return Match{}, false
	}
	segs := segments(u)
	switch len(segs) {
	case 1:
		if i, ok := r.byPath[segs[0]]; ok {
			return Match{Kind: r.kinds[i], Collection: true}, true
		}
	case 2:
		if i, ok := r.byPath[segs[0]]; ok {
			if _, isKey := parseKey(segs[1]); isKey {
				return Match{Kind: r.kinds[i], Collection: false}, true
			}
		}
	}
	return Match{}, false
}

// KeyOf extracts the trailing numeric key of an item identifier. It does not
// consult any route table: any identifier with at least two path segments
// whose last segment is a non-negative decimal integer yields that integer.
func KeyOf(id string) (int64, bool) {
	u, err := url.Parse(id)
	if err != nil {
		return 0, false
	}
	segs := segments(u)
	if len(segs) < 2 {
		return 0, false
	}
	return parseKey(segs[len(segs)-1])
}

// WithAppendedKey returns id with key appended as a new path segment. Query
// parameters are preserved.
func WithAppendedKey(id string, key int64) (string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%q: %w", id, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strconv.FormatInt(key, 10)
	u.RawPath = ""
	return u.String(), nil
}

// QueryParameter returns the first value of a query parameter of id.
func QueryParameter(id, name string) (string, bool) {
	u, err := url.Parse(id)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if !q.Has(name) {
		return "", false
	}
	return q.Get(name), true
}

// segments splits the decoded path, dropping empty segments.
func segments(u *url.URL) []string {
	var out []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseKey(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
