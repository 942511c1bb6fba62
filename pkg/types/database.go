package types

import (
	"context"
	"errors"
	"reflect"
)

// Compartment performs entity-level reads and writes for registered kinds
// against one database handle. Inside Database.Transact the handle is the
// open transaction.
type Compartment interface {
	// Put inserts values as a new row, or replaces the row when values
	// carries IDColumn. Returns the row id.
	Put(kind EntityKind, values Values) (int64, error)

	// UpdateByID updates the row with the given id. Returns rows affected.
	UpdateByID(kind EntityKind, id int64, values Values) (int64, error)

	// Update updates every row matching sel. Returns rows affected.
	Update(kind EntityKind, values Values, sel Selection) (int64, error)

	// DeleteByID removes the row with the given id and reports whether it
	// existed.
	DeleteByID(kind EntityKind, id int64) (bool, error)

	// Delete removes every row matching sel. Returns rows affected.
	Delete(kind EntityKind, sel Selection) (int64, error)

	// Query returns the rows of kind described by args.
	Query(kind EntityKind, args QueryArgs) (*Cursor, error)

	// QueryByID returns a cursor with zero or one row.
	QueryByID(kind EntityKind, id int64, projection []string) (*Cursor, error)
}

// TransactionListener observes the lifecycle of one transaction.
type TransactionListener interface {
	OnBegin()
	OnCommit()
	OnRollback()
}

// Database is the capability contract a storage adapter offers the provider.
type Database interface {
	// Transact runs fn inside one transaction. A non-nil error from fn rolls
	// the transaction back and is returned unchanged. listener may be nil.
	Transact(ctx context.Context, listener TransactionListener, fn func(Compartment) error) error

	// Reader returns a compartment bound to ctx for use outside a
	// transaction.
	Reader(ctx context.Context) Compartment

	// Close releases the database. Idempotent.
	Close() error
}

// Database errors.
var (
	ErrDatabaseClosed = errors.New("database is closed")
	ErrNotFound       = errors.New("entity not found")
	ErrInvalidVersion = errors.New("invalid database version")
)

// Change is a notification that the data behind URI changed.
type Change struct {
	URI           string
	SyncToNetwork bool
}

// Notifier publishes and delivers change notifications keyed by resource
// identifier.
type Notifier interface {
	NotifyChange(uri string, syncToNetwork bool)
	Subscribe(ctx context.Context, uri string) <-chan Change
}

// FieldConverter maps a Go value to a column value and back. Converters are
// created per Go type by a ConverterFactory.
type FieldConverter interface {
	// ToColumn encodes value for storage.
	ToColumn(value any) (any, error)
	// FromColumn decodes a stored value into a new value of the converter's
	// type, returned as any.
	FromColumn(raw any) (any, error)
	// ColumnType is the storage class the converter writes.
	ColumnType() ColumnType
}

// ConverterFactory returns a FieldConverter for t, or nil when it does not
// handle t.
type ConverterFactory interface {
	Create(t reflect.Type) FieldConverter
}
