// Package adapter exposes a query cursor as a positional list of typed
// items with stable ids, the data side of a list or grid view.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/mesh-intelligence/cupboard-tools/pkg/convert"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// TagName is the struct tag naming the column a field is read from.
const TagName = "column"

// ErrNoNotificationURI is returned by Watch when the cursor has nothing to
// watch.
var ErrNoNotificationURI = errors.New("cursor has no notification uri")

// Requery produces a fresh cursor after a change.
type Requery func(ctx context.Context) (*types.Cursor, error)

// Option configures a CursorAdapter.
type Option func(*options)

type options struct {
	codec convert.Codec
}

// WithCodec sets the codec used to decode JSON text columns into slice, map
// and struct fields. Defaults to convert.Goccy.
func WithCodec(c convert.Codec) Option {
	return func(o *options) { o.codec = c }
}

// CursorAdapter binds the rows of a cursor to items of type T. Fields of T
// are matched to columns by their column tag.
type CursorAdapter[T any] struct {
	mu       sync.RWMutex
	cur      *types.Cursor
	idIdx    int
	codec    convert.Codec
	onChange func()
}

// New returns an adapter over cur. A nil cursor is replaced by an empty one
// with only an _id column. cur must have an _id column.
func New[T any](cur *types.Cursor, opts ...Option) (*CursorAdapter[T], error) {
	o := options{codec: convert.Goccy}
	for _, opt := range opts {
		opt(&o)
	}
	a := &CursorAdapter[T]{codec: o.codec}
	if err := a.SwapCursor(cur); err != nil {
		return nil, err
	}
	return a, nil
}

// OnChange registers fn to run after every cursor swap.
func (a *CursorAdapter[T]) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// SwapCursor replaces the current cursor. A nil cursor is replaced by an
// empty one. The cursor is rejected with types.ErrNoIDColumn when it lacks
// an _id column; the previous cursor is kept in that case.
func (a *CursorAdapter[T]) SwapCursor(cur *types.Cursor) error {
	if cur == nil {
		cur = types.EmptyCursor()
	}
	idx := cur.ColumnIndex(types.IDColumn)
	if idx < 0 {
		return fmt.Errorf("columns %v: %w", cur.Columns, types.ErrNoIDColumn)
	}

	a.mu.Lock()
	a.cur = cur
	a.idIdx = idx
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// Cursor returns the current cursor.
func (a *CursorAdapter[T]) Cursor() *types.Cursor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cur
}

// ItemCount returns the number of rows.
func (a *CursorAdapter[T]) ItemCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cur.Count()
}

// ItemID returns the _id of the row at pos.
func (a *CursorAdapter[T]) ItemID(pos int) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if pos < 0 || pos >= a.cur.Count() {
		return 0, fmt.Errorf("position %d of %d: %w", pos, a.cur.Count(), types.ErrInvalidPosition)
	}
	raw := a.cur.Rows[pos][a.idIdx]
	id, ok := types.AsInt64(raw)
	if !ok {
		return 0, fmt.Errorf("row %d %s %v: %w", pos, types.IDColumn, raw, types.ErrInvalidValues)
	}
	return id, nil
}

// Item decodes the row at pos into a T.
func (a *CursorAdapter[T]) Item(pos int) (T, error) {
	var item T

	a.mu.RLock()
	row, err := a.cur.Row(pos)
	a.mu.RUnlock()
	if err != nil {
		return item, err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          TagName,
		WeaklyTypedInput: true,
		DecodeHook:       jsonTextHook(a.codec),
		Result:           &item,
	})
	if err != nil {
		return item, err
	}
	if err := dec.Decode(map[string]any(row)); err != nil {
		return item, fmt.Errorf("decoding row %d: %w", pos, err)
	}
	return item, nil
}

// Items decodes every row.
func (a *CursorAdapter[T]) Items() ([]T, error) {
	n := a.ItemCount()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := a.Item(i)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Watch subscribes to the cursor's notification uri and swaps in the result
// of requery after every change, re-subscribing when the new cursor reports
// a different uri. Changes that arrive while a requery runs are coalesced.
// Watch blocks until ctx ends, returning ctx.Err(), or the subscription
// closes, returning nil. A requery error stops the watch.
func (a *CursorAdapter[T]) Watch(ctx context.Context, n types.Notifier, requery Requery) error {
	uri := a.Cursor().NotificationURI
	if uri == "" {
		return ErrNoNotificationURI
	}

	for {
		subCtx, cancel := context.WithCancel(ctx)
		changes := n.Subscribe(subCtx, uri)
		next, err := a.watchURI(ctx, changes, uri, requery)
		cancel()
		if err != nil || next == "" {
			return err
		}
		uri = next
	}
}

// watchURI serves one subscription. It returns the new uri to subscribe to
// when a swapped-in cursor reports a different one.
func (a *CursorAdapter[T]) watchURI(ctx context.Context, changes <-chan types.Change, uri string, requery Requery) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return "", ctx.Err()
			}
			drain(changes)

			cur, err := requery(ctx)
			if err != nil {
				return "", fmt.Errorf("requery: %w", err)
			}
			if err := a.SwapCursor(cur); err != nil {
				return "", err
			}
			if next := a.Cursor().NotificationURI; next != "" && next != uri {
				return next, nil
			}
		}
	}
}

func drain(changes <-chan types.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

var timeType = reflect.TypeFor[time.Time]()

// jsonTextHook decodes JSON text stored in TEXT columns into slice, map and
// struct fields.
func jsonTextHook(codec convert.Codec) mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from == nil || from.Kind() != reflect.String || to == timeType {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Slice, reflect.Array:
			if to.Elem().Kind() == reflect.Uint8 {
				return data, nil
			}
		case reflect.Map, reflect.Struct:
		default:
			return data, nil
		}

		s := reflect.ValueOf(data).String()
		if s == "" {
			return reflect.Zero(to).Interface(), nil
		}
		ptr := reflect.New(to)
		if err := codec.Unmarshal([]byte(s), ptr.Interface()); err != nil {
			return nil, fmt.Errorf("%s decode %s: %w", codec.Name(), to, err)
		}
		return ptr.Elem().Interface(), nil
	}
}
