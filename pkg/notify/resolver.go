package notify

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// Subscription is one observer registration.
type Subscription struct {
	ID  uuid.UUID
	URI string
	// C receives matching changes. It is closed when the subscription's
	// context ends or the resolver closes.
	C <-chan types.Change
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(size int) Option {
	return func(r *Resolver) { r.buffer = size }
}

// Resolver implements types.Notifier on a Broker.
type Resolver struct {
	broker *Broker[types.Change]
	logger *log.Logger
	buffer int
}

var _ types.Notifier = (*Resolver)(nil)

// New returns a Resolver with no subscriptions.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		logger: log.New(io.Discard),
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.broker = NewBrokerWithBuffer[types.Change](r.buffer)
	return r
}

// Watch registers an observer on uri.
func (r *Resolver) Watch(ctx context.Context, uri string) *Subscription {
	target := parseTarget(uri)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	c := r.broker.Subscribe(ctx, func(ch types.Change) bool {
		return target.related(parseTarget(ch.URI))
	})
	r.logger.Debug("subscribed", "uri", uri, "id", id)
	return &Subscription{ID: id, URI: uri, C: c}
}

// Subscribe implements types.Notifier.
func (r *Resolver) Subscribe(ctx context.Context, uri string) <-chan types.Change {
	return r.Watch(ctx, uri).C
}

// NotifyChange publishes a change of uri to every related subscription.
func (r *Resolver) NotifyChange(uri string, syncToNetwork bool) {
	n := r.broker.Publish(types.Change{URI: uri, SyncToNetwork: syncToNetwork})
	r.logger.Debug("notify", "uri", uri, "sync", syncToNetwork, "delivered", n)
}

// Subscribers returns the number of live subscriptions.
func (r *Resolver) Subscribers() int {
	return r.broker.SubscriberCount()
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (r *Resolver) Close() {
	r.broker.Close()
}

// target is the comparable form of a resource identifier: authority plus
// non-empty path segments. Query and fragment are ignored.
type target struct {
	authority string
	segments  []string
	valid     bool
}

func parseTarget(uri string) target {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return target{}
	}
	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return target{authority: u.Host, segments: segs, valid: true}
}

// related reports whether t and o share an authority and one's segments are
// a prefix of the other's.
func (t target) related(o target) bool {
	if !t.valid || !o.valid || t.authority != o.authority {
		return false
	}
	n := min(len(t.segments), len(o.segments))
	for i := 0; i < n; i++ {
		if t.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}
